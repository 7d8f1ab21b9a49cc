package extraction

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
	"unicode/utf8"
)

// maxTextLayer caps the embedded text appended to the prompt
const maxTextLayer = 16000

// Ollama implements Extractor using a local vision model served by Ollama.
// Ollama cannot read PDFs, so pages are rendered to images and the text layer
// is appended to the prompt when the document has one.
type Ollama struct {
	baseURL  string
	model    string
	maxPages int
	client   *http.Client

	render func(document []byte, maxPages int) ([][]byte, error)
	text   func(document []byte) (string, error)
}

// NewOllama creates a new Ollama extractor
func NewOllama(baseURL string, modelName string) *Ollama {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if modelName == "" {
		modelName = "llava"
	}

	return &Ollama{
		baseURL:  baseURL,
		model:    modelName,
		maxPages: 4,
		client: &http.Client{
			Timeout: 5 * time.Minute,
		},
		render: renderPages,
		text:   textLayer,
	}
}

type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Format   string          `json:"format,omitempty"`
}

type ollamaMessage struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"`
}

type ollamaChatResponse struct {
	Message ollamaMessage `json:"message"`
	Done    bool          `json:"done"`
}

// Extract renders the document and asks the model for the invoice JSON
func (o *Ollama) Extract(ctx context.Context, document []byte, mimeType string) (string, error) {
	if mimeType != PDFMimeType {
		return "", fmt.Errorf("unsupported document type %q", mimeType)
	}

	pages, err := o.render(document, o.maxPages)
	if err != nil {
		return "", err
	}
	images := make([]string, 0, len(pages))
	for _, page := range pages {
		images = append(images, base64.StdEncoding.EncodeToString(page))
	}

	prompt := invoicePrompt
	text, err := readText(o.text, document)
	if err != nil {
		slog.Debug("No PDF text layer", "error", err)
	}
	if text != "" {
		text = truncateText(text, maxTextLayer)
		prompt += "\n\nThe document's embedded text follows:\n" + text
	}

	reqBody := ollamaChatRequest{
		Model:  o.model,
		Stream: false,
		Format: "json",
		Messages: []ollamaMessage{
			{
				Role:    "system",
				Content: "You are an expert at reading supplier invoices and extracting line items accurately.",
			},
			{
				Role:    "user",
				Content: prompt,
				Images:  images,
			},
		},
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	url := fmt.Sprintf("%s/api/chat", o.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonData))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("calling ollama API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("ollama API error (status %d): %s", resp.StatusCode, string(body))
	}

	var chatResp ollamaChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return "", fmt.Errorf("decoding response: %w", err)
	}
	return chatResp.Message.Content, nil
}

// truncateText cuts text to at most limit bytes without splitting a rune
func truncateText(text string, limit int) string {
	if len(text) <= limit {
		return text
	}
	for limit > 0 && !utf8.RuneStart(text[limit]) {
		limit--
	}
	return text[:limit]
}

// Close is a no-op for the HTTP client
func (o *Ollama) Close() error {
	return nil
}

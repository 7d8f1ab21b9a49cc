package extraction

import (
	"context"
	"fmt"
	"strings"

	"cloud.google.com/go/vertexai/genai"
)

// Vertex implements Extractor with Gemini served from Vertex AI
type Vertex struct {
	client *genai.Client
	model  *genai.GenerativeModel
}

// NewVertex creates a Vertex AI extractor using application default credentials
func NewVertex(ctx context.Context, projectID, location, modelName string) (*Vertex, error) {
	if projectID == "" {
		return nil, fmt.Errorf("vertex project is required: %w", ErrNotConfigured)
	}
	if location == "" {
		location = "us-central1"
	}
	if modelName == "" {
		modelName = "gemini-2.5-flash"
	}

	client, err := genai.NewClient(ctx, projectID, location)
	if err != nil {
		return nil, fmt.Errorf("creating vertex client: %w", err)
	}

	model := client.GenerativeModel(modelName)
	model.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text("You extract structured line-item data from supplier invoices.")},
	}
	model.SetTemperature(0)
	model.ResponseMIMEType = "application/json"

	return &Vertex{client: client, model: model}, nil
}

// Extract sends the document inline with the invoice instruction
func (v *Vertex) Extract(ctx context.Context, document []byte, mimeType string) (string, error) {
	resp, err := v.model.GenerateContent(ctx,
		genai.Blob{MIMEType: mimeType, Data: document},
		genai.Text(invoicePrompt),
	)
	if err != nil {
		return "", fmt.Errorf("generating content: %w", err)
	}
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", fmt.Errorf("no response from vertex")
	}

	var text strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if t, ok := part.(genai.Text); ok {
			text.WriteString(string(t))
		}
	}
	return text.String(), nil
}

// Close closes the Vertex client
func (v *Vertex) Close() error {
	return v.client.Close()
}

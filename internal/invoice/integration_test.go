package invoice_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"

	"github.com/franmartos11/mvm-facturas/internal/auth"
	"github.com/franmartos11/mvm-facturas/internal/invoice"
	"github.com/franmartos11/mvm-facturas/internal/storage"
)

// scriptedExtractor answers each call with the next scripted response
type scriptedExtractor struct {
	responses []string
	calls     int
}

func (s *scriptedExtractor) Extract(context.Context, []byte, string) (string, error) {
	response := s.responses[s.calls%len(s.responses)]
	s.calls++
	return response, nil
}

func (s *scriptedExtractor) Close() error {
	return nil
}

var anyPath = regexp.MustCompile(`.*`)

var _ = Describe("Integration", func() {
	var (
		db        *invoice.BoltDB
		store     *storage.Local
		extractor *scriptedExtractor
		tokens    *auth.Tokens
		docHost   *ghttp.Server
		apiServer *ghttp.Server
		token     string
	)

	call := func(method, path string, body *bytes.Buffer, contentType string, out any) int {
		var req *http.Request
		var err error
		if body == nil {
			req, err = http.NewRequest(method, apiServer.URL()+path, nil)
		} else {
			req, err = http.NewRequest(method, apiServer.URL()+path, body)
		}
		Expect(err).NotTo(HaveOccurred())
		req.Header.Set("Authorization", "Bearer "+token)
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}
		resp, err := http.DefaultClient.Do(req)
		Expect(err).NotTo(HaveOccurred())
		defer resp.Body.Close()
		if out != nil {
			Expect(json.NewDecoder(resp.Body).Decode(out)).To(Succeed())
		}
		return resp.StatusCode
	}

	upload := func(name string) *invoice.Invoice {
		body := &bytes.Buffer{}
		writer := multipart.NewWriter(body)
		part, err := writer.CreateFormFile("file", name)
		Expect(err).NotTo(HaveOccurred())
		_, err = part.Write([]byte("%PDF-1.4 " + name))
		Expect(err).NotTo(HaveOccurred())
		Expect(writer.Close()).To(Succeed())

		var inv invoice.Invoice
		Expect(call(http.MethodPost, "/api/invoices", body, writer.FormDataContentType(), &inv)).To(Equal(http.StatusCreated))
		return &inv
	}

	BeforeEach(func() {
		tempDir := GinkgoT().TempDir()

		var err error
		db, err = invoice.NewBoltDB(filepath.Join(tempDir, "facturas.db"))
		Expect(err).NotTo(HaveOccurred())

		// Documents are fetched back from a separate host, as from a public bucket
		docHost = ghttp.NewServer()
		docHost.RouteToHandler(http.MethodGet, anyPath, func(w http.ResponseWriter, r *http.Request) {
			data, err := store.Get(r.Context(), strings.TrimPrefix(r.URL.Path, "/"))
			if err != nil {
				http.NotFound(w, r)
				return
			}
			w.Write(data)
		})

		store, err = storage.NewLocal(filepath.Join(tempDir, "uploads"), docHost.URL())
		Expect(err).NotTo(HaveOccurred())

		extractor = &scriptedExtractor{responses: []string{
			"```json\n" + `{"supplier":"Mayorista Centro","items":[{"description":"Yerba 1kg","quantity":2,"unit_price":"1000","total_price":2000}]}` + "\n```",
			`[{"description":" yerba 1KG","quantity":1,"unit_price":1100,"total_price":1100}]`,
		}}

		fetcher := invoice.NewHTTPFetcher(5 * time.Second)
		orchestrator := invoice.NewOrchestrator(db, fetcher, extractor, nil, time.Second)
		gateway := invoice.NewGateway(store, nil)
		service := invoice.NewServiceWithDeps(db, gateway, orchestrator, func([]byte) (int, error) { return 1, nil }, nil, nil)

		tokens, err = auth.NewTokens("integration-secret", time.Hour)
		Expect(err).NotTo(HaveOccurred())
		token, err = tokens.Generate("user-1")
		Expect(err).NotTo(HaveOccurred())

		server := invoice.NewServer(service, auth.Chain{tokens})
		apiServer = ghttp.NewServer()
		apiServer.RouteToHandler(http.MethodGet, anyPath, server.ServeHTTP)
		apiServer.RouteToHandler(http.MethodPost, anyPath, server.ServeHTTP)
		apiServer.RouteToHandler(http.MethodDelete, anyPath, server.ServeHTTP)
	})

	AfterEach(func() {
		apiServer.Close()
		docHost.Close()
		db.Close()
	})

	It("should upload, analyze, trend and delete invoices", func() {
		first := upload("enero.pdf")
		Expect(first.FileURL).To(HavePrefix(docHost.URL() + "/uploads/"))

		var analyzed invoice.Invoice
		Expect(call(http.MethodPost, fmt.Sprintf("/api/invoices/%s/analyze", first.ID), nil, "", &analyzed)).To(Equal(http.StatusOK))
		Expect(analyzed.Status).To(Equal(invoice.StatusAnalyzed))
		Expect(analyzed.SupplierName()).To(Equal("Mayorista Centro"))

		Expect(call(http.MethodPost, fmt.Sprintf("/api/invoices/%s/analyze", first.ID), nil, "", nil)).To(Equal(http.StatusConflict))
		Expect(extractor.calls).To(Equal(1))

		second := upload("febrero.pdf")
		Expect(call(http.MethodPost, fmt.Sprintf("/api/invoices/%s/analyze", second.ID), nil, "", nil)).To(Equal(http.StatusOK))

		var items []*invoice.ItemWithInvoice
		Expect(call(http.MethodGet, "/api/items?q=yerba", nil, "", &items)).To(Equal(http.StatusOK))
		Expect(items).To(HaveLen(2))

		var trendsByItem map[string]struct {
			ChangePercent float64 `json:"change_percent"`
			Direction     string  `json:"direction"`
		}
		Expect(call(http.MethodGet, "/api/trends", nil, "", &trendsByItem)).To(Equal(http.StatusOK))
		Expect(trendsByItem).To(HaveLen(2))
		directions := []string{}
		for _, t := range trendsByItem {
			directions = append(directions, t.Direction)
		}
		Expect(directions).To(ConsistOf("new", "up"))

		Expect(call(http.MethodDelete, "/api/invoices/"+first.ID, nil, "", nil)).To(Equal(http.StatusNoContent))
		_, err := store.Get(context.Background(), first.StoragePath)
		Expect(err).To(MatchError(storage.ErrNotFound))

		var remaining []*invoice.Invoice
		Expect(call(http.MethodGet, "/api/invoices", nil, "", &remaining)).To(Equal(http.StatusOK))
		Expect(remaining).To(HaveLen(1))
		Expect(remaining[0].ID).To(Equal(second.ID))
	})

	It("should keep other users out", func() {
		inv := upload("marzo.pdf")

		other, err := tokens.Generate("user-2")
		Expect(err).NotTo(HaveOccurred())
		token = other

		Expect(call(http.MethodGet, "/api/invoices/"+inv.ID, nil, "", nil)).To(Equal(http.StatusForbidden))
		Expect(call(http.MethodDelete, "/api/invoices/"+inv.ID, nil, "", nil)).To(Equal(http.StatusForbidden))

		var invoices []*invoice.Invoice
		Expect(call(http.MethodGet, "/api/invoices", nil, "", &invoices)).To(Equal(http.StatusOK))
		Expect(invoices).To(BeEmpty())
	})
})

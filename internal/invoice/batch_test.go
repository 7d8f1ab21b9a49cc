package invoice

import (
	"context"
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Batch", func() {
	var (
		env     *testEnv
		service *Service
		ctx     context.Context
	)

	BeforeEach(func() {
		env = newTestEnv()
		ctx = context.Background()
	})

	JustBeforeEach(func() {
		service = env.service()
	})

	Describe("RunBatch", func() {
		BeforeEach(func() {
			env.seedInvoice("inv-1", "user-1", StatusUploaded)
			env.seedInvoice("inv-2", "user-1", StatusUploaded)
			env.seedInvoice("inv-3", "user-1", StatusUploaded)
		})

		When("the second of three analyses fails", func() {
			BeforeEach(func() {
				responses := []string{sampleResponse, "not json", sampleResponse}
				env.extractor.before = func() {
					env.extractor.response = responses[env.extractor.calls-1]
				}
			})

			It("should report the failure and keep the other results", func() {
				result, err := service.RunBatch(ctx, "user-1", []string{"inv-1", "inv-2", "inv-3"}, OperationAnalyze)
				Expect(err).NotTo(HaveOccurred())
				Expect(result.Succeeded).To(Equal([]string{"inv-1", "inv-3"}))
				Expect(result.Failed).To(HaveLen(1))
				Expect(result.Failed[0].ID).To(Equal("inv-2"))
				Expect(result.Failed[0].Err).To(MatchError(ErrParse))
				Expect(result.FailureCount()).To(Equal(1))

				Expect(env.db.invoices["inv-1"].Status).To(Equal(StatusAnalyzed))
				Expect(env.db.invoices["inv-2"].Status).To(Equal(StatusError))
				Expect(env.db.invoices["inv-3"].Status).To(Equal(StatusAnalyzed))
			})
		})

		When("deleting", func() {
			It("should delete every owned invoice and report the rest", func() {
				env.seedInvoice("inv-9", "user-2", StatusUploaded)

				result, err := service.RunBatch(ctx, "user-1", []string{"inv-1", "inv-9", "missing"}, OperationDelete)
				Expect(err).NotTo(HaveOccurred())
				Expect(result.Succeeded).To(Equal([]string{"inv-1"}))
				Expect(result.Failed).To(HaveLen(2))
				Expect(result.Failed[0].Err).To(MatchError(ErrOwnershipViolation))
				Expect(result.Failed[1].Err).To(MatchError(ErrNotFound))
				Expect(env.db.invoices).NotTo(HaveKey("inv-1"))
				Expect(env.db.invoices).To(HaveKey("inv-9"))
			})
		})

		When("the operation is unknown", func() {
			It("should return ErrUnknownOperation", func() {
				_, err := service.RunBatch(ctx, "user-1", []string{"inv-1"}, Operation("archive"))
				Expect(err).To(MatchError(ErrUnknownOperation))
			})
		})

		When("no user is authenticated", func() {
			It("should return ErrAuthenticationRequired", func() {
				_, err := service.RunBatch(ctx, "", []string{"inv-1"}, OperationDelete)
				Expect(err).To(MatchError(ErrAuthenticationRequired))
			})
		})

		When("the caller goes away mid-batch", func() {
			var cancel context.CancelFunc

			BeforeEach(func() {
				ctx, cancel = context.WithCancel(context.Background())
				env.extractor.before = func() {
					if env.extractor.calls == 1 {
						cancel()
					}
				}
			})

			It("should finish the target in flight and skip the rest", func() {
				result, err := service.RunBatch(ctx, "user-1", []string{"inv-1", "inv-2", "inv-3"}, OperationAnalyze)
				Expect(err).NotTo(HaveOccurred())
				Expect(result.Succeeded).To(Equal([]string{"inv-1"}))
				Expect(result.Failed).To(BeEmpty())
				Expect(result.Skipped).To(Equal([]string{"inv-2", "inv-3"}))
				Expect(env.db.invoices["inv-1"].Status).To(Equal(StatusAnalyzed))
				Expect(env.db.invoices["inv-2"].Status).To(Equal(StatusUploaded))
			})
		})
	})

	Describe("AnalyzableIDs", func() {
		BeforeEach(func() {
			env.seedInvoice("inv-1", "user-1", StatusUploaded)
			env.seedInvoice("inv-2", "user-1", StatusAnalyzed)
			env.seedInvoice("inv-3", "user-1", StatusError)
		})

		It("should drop analyzed invoices and keep unknown ids", func() {
			ids, err := service.AnalyzableIDs(ctx, "user-1", []string{"inv-1", "inv-2", "inv-3", "missing"})
			Expect(err).NotTo(HaveOccurred())
			Expect(ids).To(Equal([]string{"inv-1", "inv-3", "missing"}))
		})
	})

	Describe("UploadBatch", func() {
		It("should upload each file and report failures by name", func() {
			env.validate = func(data []byte) (int, error) {
				if string(data) == "broken" {
					return 0, ErrInvalidDocument
				}
				return 1, nil
			}
			service = env.service()

			report, err := service.UploadBatch(ctx, "user-1", []UploadFile{
				{Name: "a.pdf", Data: []byte("%PDF-1.4 a")},
				{Name: "b.pdf", Data: []byte("broken")},
				{Name: "a.pdf", Data: []byte("%PDF-1.4 a2")},
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(report.Succeeded).To(Equal([]string{"a.pdf", "a.pdf"}))
			Expect(report.Failed).To(HaveLen(1))
			Expect(report.Failed[0].ID).To(Equal("b.pdf"))
			Expect(errors.Is(report.Failed[0].Err, ErrInvalidDocument)).To(BeTrue())
			Expect(report.Invoices).To(HaveLen(2))
			Expect(report.Invoices[0].StoragePath).NotTo(Equal(report.Invoices[1].StoragePath))
			Expect(env.db.invoices).To(HaveLen(2))
		})
	})
})

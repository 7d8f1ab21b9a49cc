package invoice

import (
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

// frozenClock always returns the same instant
type frozenClock struct {
	t time.Time
}

func (c frozenClock) Now() time.Time {
	return c.t
}

var _ = Describe("Gateway", func() {
	var (
		storage *mockStorage
		gateway *Gateway
		now     time.Time
	)

	BeforeEach(func() {
		storage = newMockStorage()
		now = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
		gateway = NewGateway(storage, frozenClock{t: now})
	})

	Describe("ObjectPath", func() {
		It("should build uploads/<owner>/<millis>_<name>", func() {
			Expect(gateway.ObjectPath("user-1", "factura.pdf")).To(Equal("uploads/user-1/1709287200000_factura.pdf"))
		})

		It("should never repeat within the same millisecond", func() {
			first := gateway.ObjectPath("user-1", "factura.pdf")
			second := gateway.ObjectPath("user-1", "factura.pdf")
			Expect(second).NotTo(Equal(first))
			Expect(second).To(Equal("uploads/user-1/1709287200001_factura.pdf"))
		})

		It("should keep path traversal out of the key", func() {
			path := gateway.ObjectPath("../admin", "../../etc/passwd")
			Expect(path).To(Equal("uploads/.._admin/1709287200000_passwd"))
		})
	})

	DescribeTable("sanitizeFilename",
		func(input, expected string) {
			Expect(sanitizeFilename(input)).To(Equal(expected))
		},
		Entry("collapses whitespace", "Factura  Enero 2024.pdf", "Factura_Enero_2024.pdf"),
		Entry("drops unsafe characters", "factura#(1)ñ.PDF", "factura1.pdf"),
		Entry("strips directories", `C:\docs\factura.pdf`, "factura.pdf"),
		Entry("falls back to a default name", "###.pdf", "invoice.pdf"),
	)

	Describe("Upload", func() {
		It("should save the document and return its public URL", func() {
			stored, err := gateway.Upload(context.Background(), "user-1", []byte("%PDF"), "a b.pdf")
			Expect(err).NotTo(HaveOccurred())
			Expect(stored.Path).To(Equal("uploads/user-1/1709287200000_a_b.pdf"))
			Expect(stored.URL).To(Equal("http://files.test/" + stored.Path))
			Expect(storage.files).To(HaveKeyWithValue(stored.Path, []byte("%PDF")))
		})

		It("should wrap storage failures in ErrStorageWrite", func() {
			storage.saveErr = errors.New("bucket missing")
			_, err := gateway.Upload(context.Background(), "user-1", []byte("%PDF"), "a.pdf")
			Expect(err).To(MatchError(ErrStorageWrite))
		})
	})

	Describe("Delete", func() {
		It("should wrap storage failures in ErrStorageDelete", func() {
			storage.deleteErr = errors.New("permission denied")
			Expect(gateway.Delete(context.Background(), "uploads/x.pdf")).To(MatchError(ErrStorageDelete))
		})

		It("should ignore an empty path", func() {
			storage.deleteErr = errors.New("permission denied")
			Expect(gateway.Delete(context.Background(), "")).To(Succeed())
		})
	})
})

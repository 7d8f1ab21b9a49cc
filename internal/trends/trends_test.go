package trends

import (
	"math/rand"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func day(n int) time.Time {
	return time.Date(2024, 3, n, 12, 0, 0, 0, time.UTC)
}

var _ = Describe("Compute", func() {
	var (
		purchases []Purchase
		result    map[string]Trend
	)

	JustBeforeEach(func() {
		result = Compute(purchases)
	})

	When("a product was bought once", func() {
		BeforeEach(func() {
			purchases = []Purchase{
				{ItemID: "a", Description: "Harina 000", UnitPrice: 10, PurchasedAt: day(1)},
			}
		})

		It("marks it new with no change", func() {
			Expect(result).To(HaveKeyWithValue("a", Trend{ChangePercent: 0, Direction: DirectionNew}))
		})
	})

	When("the price rises from 10.00 to 12.00", func() {
		BeforeEach(func() {
			purchases = []Purchase{
				{ItemID: "b", Description: "Aceite", UnitPrice: 12, PurchasedAt: day(2)},
				{ItemID: "a", Description: "Aceite", UnitPrice: 10, PurchasedAt: day(1)},
			}
		})

		It("marks the first purchase new", func() {
			Expect(result["a"].Direction).To(Equal(DirectionNew))
		})

		It("reports a 20 percent rise", func() {
			Expect(result["b"].Direction).To(Equal(DirectionUp))
			Expect(result["b"].ChangePercent).To(BeNumerically("~", 20, 1e-9))
		})
	})

	When("the price drops from 10.00 to 9.40", func() {
		BeforeEach(func() {
			purchases = []Purchase{
				{ItemID: "a", Description: "Yerba", UnitPrice: 10, PurchasedAt: day(1)},
				{ItemID: "b", Description: "Yerba", UnitPrice: 9.40, PurchasedAt: day(2)},
			}
		})

		It("reports the magnitude of the drop", func() {
			Expect(result["b"].Direction).To(Equal(DirectionDown))
			Expect(result["b"].ChangePercent).To(BeNumerically("~", 6, 1e-9))
		})
	})

	When("the price moves from 10.00 to 10.03", func() {
		BeforeEach(func() {
			purchases = []Purchase{
				{ItemID: "a", Description: "Azucar", UnitPrice: 10, PurchasedAt: day(1)},
				{ItemID: "b", Description: "Azucar", UnitPrice: 10.03, PurchasedAt: day(2)},
			}
		})

		It("stays inside the dead zone", func() {
			Expect(result["b"].Direction).To(Equal(DirectionSame))
			Expect(result["b"].ChangePercent).To(BeNumerically("~", 0.3, 1e-9))
		})
	})

	When("the change sits exactly on the dead zone boundary", func() {
		BeforeEach(func() {
			purchases = []Purchase{
				{ItemID: "a", Description: "Sal", UnitPrice: 100, PurchasedAt: day(1)},
				{ItemID: "b", Description: "Sal", UnitPrice: 100.5, PurchasedAt: day(2)},
				{ItemID: "c", Description: "Pimienta", UnitPrice: 200, PurchasedAt: day(1)},
				{ItemID: "d", Description: "Pimienta", UnitPrice: 199, PurchasedAt: day(2)},
			}
		})

		It("counts +0.5 as unchanged", func() {
			Expect(result["b"].Direction).To(Equal(DirectionSame))
		})

		It("counts -0.5 as unchanged", func() {
			Expect(result["d"].Direction).To(Equal(DirectionSame))
		})
	})

	When("the previous unit price is zero", func() {
		BeforeEach(func() {
			purchases = []Purchase{
				{ItemID: "a", Description: "Muestra", UnitPrice: 0, PurchasedAt: day(1)},
				{ItemID: "b", Description: "Muestra", UnitPrice: 5, PurchasedAt: day(2)},
			}
		})

		It("treats the purchase as new", func() {
			Expect(result["b"]).To(Equal(Trend{ChangePercent: 0, Direction: DirectionNew}))
		})
	})

	When("descriptions differ only by case and surrounding spaces", func() {
		BeforeEach(func() {
			purchases = []Purchase{
				{ItemID: "a", Description: "  LECHE Entera ", UnitPrice: 10, PurchasedAt: day(1)},
				{ItemID: "b", Description: "leche entera", UnitPrice: 11, PurchasedAt: day(2)},
			}
		})

		It("groups them as one product", func() {
			Expect(result["b"].Direction).To(Equal(DirectionUp))
		})
	})

	When("descriptions are worded differently", func() {
		BeforeEach(func() {
			purchases = []Purchase{
				{ItemID: "a", Description: "Leche entera 1L", UnitPrice: 10, PurchasedAt: day(1)},
				{ItemID: "b", Description: "Leche entera", UnitPrice: 11, PurchasedAt: day(2)},
			}
		})

		It("treats them as distinct products", func() {
			Expect(result["a"].Direction).To(Equal(DirectionNew))
			Expect(result["b"].Direction).To(Equal(DirectionNew))
		})
	})

	When("a purchase has no date", func() {
		BeforeEach(func() {
			purchases = []Purchase{
				{ItemID: "a", Description: "Cafe", UnitPrice: 20, PurchasedAt: day(1)},
				{ItemID: "b", Description: "Cafe", UnitPrice: 10},
			}
		})

		It("sorts it first", func() {
			Expect(result["b"].Direction).To(Equal(DirectionNew))
			Expect(result["a"].Direction).To(Equal(DirectionUp))
			Expect(result["a"].ChangePercent).To(BeNumerically("~", 100, 1e-9))
		})
	})

	When("two purchases share a date", func() {
		BeforeEach(func() {
			purchases = []Purchase{
				{ItemID: "2", Description: "Te", UnitPrice: 15, PurchasedAt: day(1)},
				{ItemID: "1", Description: "Te", UnitPrice: 10, PurchasedAt: day(1)},
			}
		})

		It("breaks the tie by item id", func() {
			Expect(result["1"].Direction).To(Equal(DirectionNew))
			Expect(result["2"].Direction).To(Equal(DirectionUp))
		})
	})

	When("the input is shuffled", func() {
		BeforeEach(func() {
			purchases = []Purchase{
				{ItemID: "1", Description: "Arroz", UnitPrice: 10, PurchasedAt: day(1)},
				{ItemID: "2", Description: "Arroz", UnitPrice: 11, PurchasedAt: day(2)},
				{ItemID: "3", Description: "arroz", UnitPrice: 9, PurchasedAt: day(3)},
				{ItemID: "4", Description: "Fideos", UnitPrice: 5, PurchasedAt: day(1)},
				{ItemID: "5", Description: "Fideos", UnitPrice: 5.01, PurchasedAt: day(1)},
				{ItemID: "6", Description: "Fideos", UnitPrice: 7},
			}
		})

		It("produces identical output", func() {
			rng := rand.New(rand.NewSource(42))
			for i := 0; i < 20; i++ {
				shuffled := append([]Purchase(nil), purchases...)
				rng.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })
				Expect(Compute(shuffled)).To(Equal(result))
			}
		})

		It("is idempotent", func() {
			Expect(Compute(purchases)).To(Equal(result))
		})
	})

	When("there are no purchases", func() {
		BeforeEach(func() {
			purchases = nil
		})

		It("returns an empty map", func() {
			Expect(result).To(BeEmpty())
		})
	})
})

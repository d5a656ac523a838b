package queue_test

import (
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/scusemua/notebook-kernel-client/common/queue"
)

var _ = Describe("SerialQueue Tests", func() {
	var q *queue.SerialQueue

	BeforeEach(func() {
		q = queue.NewSerialQueue("TestSerialQueue")
	})

	AfterEach(func() {
		q.Close()
		Eventually(q.Stopped()).Should(BeClosed())
	})

	It("Will execute tasks in submission order", func() {
		var (
			mu    sync.Mutex
			order []int
		)

		for i := 0; i < 100; i++ {
			i := i
			Expect(q.Submit(func() {
				mu.Lock()
				defer mu.Unlock()
				order = append(order, i)
			})).To(BeTrue())
		}

		q.Sync()

		mu.Lock()
		defer mu.Unlock()
		Expect(order).To(HaveLen(100))
		for i := 0; i < 100; i++ {
			Expect(order[i]).To(Equal(i))
		}
	})

	It("Will not start a task before the previous task has returned", func() {
		var (
			running int32
			mu      sync.Mutex
			overlap bool
		)

		for i := 0; i < 10; i++ {
			q.Submit(func() {
				mu.Lock()
				running++
				if running > 1 {
					overlap = true
				}
				mu.Unlock()

				time.Sleep(time.Millisecond * 2)

				mu.Lock()
				running--
				mu.Unlock()
			})
		}

		q.Sync()

		mu.Lock()
		defer mu.Unlock()
		Expect(overlap).To(BeFalse())
	})

	It("Will keep processing after a task panics", func() {
		executed := false

		q.Submit(func() { panic("boom") })
		q.Submit(func() { executed = true })
		q.Sync()

		Expect(executed).To(BeTrue())
	})

	It("Will reject tasks once closed", func() {
		q.Close()
		Eventually(q.Stopped()).Should(BeClosed())

		Expect(q.Submit(func() {})).To(BeFalse())
		Expect(q.Len()).To(Equal(0))

		// Sync on a closed queue returns immediately.
		q.Sync()
	})
})

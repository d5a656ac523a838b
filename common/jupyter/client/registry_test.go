package client_test

import (
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/scusemua/notebook-kernel-client/common/jupyter/client"
	"github.com/scusemua/notebook-kernel-client/common/jupyter/messaging"
)

var _ = Describe("CallbackRegistry", func() {
	var registry *client.CallbackRegistry

	noop := func(*messaging.Message) {}

	BeforeEach(func() {
		registry = client.NewCallbackRegistry()
	})

	It("Will retire a shell-only entry as soon as the shell group finishes", func() {
		registry.Register("m1", &client.Callbacks{Shell: &client.ShellCallbacks{Reply: noop}})
		Expect(registry.Contains("m1")).To(BeTrue())

		Expect(registry.FinishShell("m1")).To(BeTrue())
		Expect(registry.Contains("m1")).To(BeFalse())
		Expect(registry.Len()).To(Equal(0))
	})

	It("Will retire an IOPub-only entry as soon as the IOPub group finishes", func() {
		registry.Register("m1", &client.Callbacks{IOPub: &client.IOPubCallbacks{Output: noop}})

		Expect(registry.FinishIOPub("m1")).To(BeTrue())
		Expect(registry.Contains("m1")).To(BeFalse())
	})

	DescribeTable("Will keep an entry with both groups until both have finished",
		func(shellFirst bool) {
			registry.Register("m1", &client.Callbacks{
				Shell: &client.ShellCallbacks{Reply: noop},
				IOPub: &client.IOPubCallbacks{Output: noop},
			})

			first, second := registry.FinishIOPub, registry.FinishShell
			if shellFirst {
				first, second = registry.FinishShell, registry.FinishIOPub
			}

			Expect(first("m1")).To(BeFalse())
			Expect(registry.Contains("m1")).To(BeTrue())

			// Finishing the same group twice does not retire the entry.
			Expect(first("m1")).To(BeFalse())
			Expect(registry.Contains("m1")).To(BeTrue())

			Expect(second("m1")).To(BeTrue())
			Expect(registry.Contains("m1")).To(BeFalse())
		},
		Entry("shell reply first", true),
		Entry("idle status first", false),
	)

	It("Will return the registered callbacks", func() {
		callbacks := &client.Callbacks{Input: noop}
		registry.Register("m1", callbacks)

		found, ok := registry.Lookup("m1")
		Expect(ok).To(BeTrue())
		Expect(found).To(BeIdenticalTo(callbacks))

		_, ok = registry.Lookup("m2")
		Expect(ok).To(BeFalse())
	})

	It("Will treat an entry without callback groups as already finished", func() {
		registry.Register("m1", nil)
		Expect(registry.Contains("m1")).To(BeTrue())

		// Either flag completes an entry whose groups both started out done.
		Expect(registry.FinishShell("m1")).To(BeTrue())
		Expect(registry.Contains("m1")).To(BeFalse())
	})

	It("Will ignore finishing an unknown id", func() {
		Expect(registry.FinishShell("missing")).To(BeFalse())
		Expect(registry.FinishIOPub("missing")).To(BeFalse())
	})

	It("Will replace an entry that is registered twice", func() {
		first := &client.Callbacks{Shell: &client.ShellCallbacks{Reply: noop}}
		second := &client.Callbacks{IOPub: &client.IOPubCallbacks{Output: noop}}

		registry.Register("m1", first)
		registry.Register("m1", second)

		found, ok := registry.Lookup("m1")
		Expect(ok).To(BeTrue())
		Expect(found).To(BeIdenticalTo(second))
		Expect(registry.Len()).To(Equal(1))
	})

	It("Will unregister and clear entries", func() {
		registry.Register("m1", &client.Callbacks{Input: noop})
		registry.Register("m2", &client.Callbacks{Input: noop})

		Expect(registry.Unregister("m1")).To(BeTrue())
		Expect(registry.Unregister("m1")).To(BeFalse())
		Expect(registry.Len()).To(Equal(1))

		registry.Clear()
		Expect(registry.Len()).To(Equal(0))
	})

	It("Will retire each entry exactly once under concurrent completion", func() {
		const n = 200

		for i := 0; i < n; i++ {
			registry.Register(idFor(i), &client.Callbacks{
				Shell: &client.ShellCallbacks{Reply: noop},
				IOPub: &client.IOPubCallbacks{Output: noop},
			})
		}

		var (
			wg      sync.WaitGroup
			mu      sync.Mutex
			retired = make(map[string]int)
		)

		finish := func(f func(string) bool) {
			defer GinkgoRecover()
			defer wg.Done()

			for i := 0; i < n; i++ {
				if f(idFor(i)) {
					mu.Lock()
					retired[idFor(i)] += 1
					mu.Unlock()
				}
			}
		}

		wg.Add(4)
		go finish(registry.FinishShell)
		go finish(registry.FinishIOPub)
		go finish(registry.FinishShell)
		go finish(registry.FinishIOPub)
		wg.Wait()

		Expect(registry.Len()).To(Equal(0))
		Expect(retired).To(HaveLen(n))
		for _, count := range retired {
			Expect(count).To(Equal(1))
		}
	})
})

func idFor(i int) string {
	return "msg-" + string(rune('a'+i%26)) + "-" + itoa(i)
}

func itoa(i int) string {
	if i == 0 {
		return "0"
	}

	var digits []byte
	for i > 0 {
		digits = append([]byte{byte('0' + i%10)}, digits...)
		i /= 10
	}
	return string(digits)
}

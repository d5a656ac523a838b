package client_test

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/scusemua/notebook-kernel-client/common/jupyter/client"
)

var _ = Describe("BackoffPolicy", func() {
	It("Will double the delay from one second up to 64 seconds", func() {
		policy := client.DefaultBackoffPolicy()

		expected := []time.Duration{
			1 * time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second,
			16 * time.Second, 32 * time.Second, 64 * time.Second,
		}

		for attempt, delay := range expected {
			Expect(policy.Exhausted(attempt)).To(BeFalse())
			Expect(policy.Delay(attempt)).To(Equal(delay))
		}

		Expect(policy.Exhausted(len(expected))).To(BeTrue())
	})

	It("Will scale the delay by the unit", func() {
		policy := client.BackoffPolicy{Base: 3, Unit: time.Millisecond, Limit: 2}

		Expect(policy.Delay(0)).To(Equal(time.Millisecond))
		Expect(policy.Delay(2)).To(Equal(9 * time.Millisecond))
		Expect(policy.Delay(-1)).To(Equal(time.Millisecond))
		Expect(policy.Exhausted(2)).To(BeTrue())
	})

	It("Will be exhausted immediately with a limit of zero", func() {
		policy := client.BackoffPolicy{Base: 2, Unit: time.Second, Limit: 0}
		Expect(policy.Exhausted(0)).To(BeTrue())
	})
})

package slack

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("per-channel rate limiting", func() {
	It("reuses the same limiter for repeated calls against one channel", func() {
		a := New("xoxb-test", "xapp-test")
		l1 := a.limiterFor("C1")
		l2 := a.limiterFor("C1")
		Expect(l1).To(BeIdenticalTo(l2))
	})

	It("gives distinct channels independent limiters", func() {
		a := New("xoxb-test", "xapp-test")
		l1 := a.limiterFor("C1")
		l2 := a.limiterFor("C2")
		Expect(l1).NotTo(BeIdenticalTo(l2))
	})

	It("allows a burst before throttling further calls", func() {
		a := New("xoxb-test", "xapp-test")
		l := a.limiterFor("C1")

		for i := 0; i < perChannelBurst; i++ {
			Expect(l.Allow()).To(BeTrue())
		}
		// The burst is exhausted; an immediate extra call is throttled.
		Expect(l.Allow()).To(BeFalse())
	})
})

package telemetry_test

import (
	"context"

	"github.com/pebblecode/tracewatch/internal/config"
	"github.com/pebblecode/tracewatch/internal/telemetry"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Setup", func() {
	It("is a no-op returning a nil Telemetry when no endpoint is configured", func() {
		tel, err := telemetry.Setup(context.Background(), config.OTelConfig{})
		Expect(err).NotTo(HaveOccurred())
		Expect(tel).To(BeNil())
	})
})

var _ = Describe("(*Telemetry).Shutdown", func() {
	It("tolerates a nil receiver, so callers can defer it unconditionally", func() {
		var tel *telemetry.Telemetry
		Expect(tel.Shutdown(context.Background())).To(Succeed())
	})
})

package transport_test

import (
	"context"
	"io"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/pkg/errors"

	"github.com/scusemua/notebook-kernel-client/common/jupyter/transport"
)

var _ = Describe("CloseError", func() {
	It("Will treat only a normal closure as clean", func() {
		Expect((&transport.CloseError{Code: transport.StatusNormalClosure}).Clean()).To(BeTrue())
		Expect((&transport.CloseError{Code: transport.StatusGoingAway}).Clean()).To(BeFalse())
		Expect((&transport.CloseError{Code: transport.StatusAbnormalClosure}).Clean()).To(BeFalse())
	})

	It("Will treat errors without a close status as an abnormal closure", func() {
		closeErr := transport.AsCloseError(io.ErrUnexpectedEOF)

		Expect(closeErr.Code).To(Equal(transport.StatusAbnormalClosure))
		Expect(closeErr.Clean()).To(BeFalse())
		Expect(errors.Is(closeErr, io.ErrUnexpectedEOF)).To(BeTrue())
	})

	It("Will find a wrapped close error", func() {
		original := &transport.CloseError{Code: transport.StatusGoingAway, Reason: "server shutting down"}

		Expect(transport.AsCloseError(errors.Wrap(original, "read failed"))).To(BeIdenticalTo(original))
		Expect(transport.AsCloseError(nil)).To(BeNil())
	})

	It("Will describe the close", func() {
		closeErr := &transport.CloseError{Code: 1011, Reason: "internal error", Err: context.DeadlineExceeded}
		Expect(closeErr.Error()).To(ContainSubstring("1011"))
		Expect(closeErr.Error()).To(ContainSubstring("internal error"))
		Expect(closeErr.Error()).To(ContainSubstring(context.DeadlineExceeded.Error()))
	})
})

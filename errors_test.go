package scserver

import (
	"errors"
	"testing"
)

func TestDehydrateNamedError(t *testing.T) {
	t.Parallel()

	got := dehydrateError(&TimeoutError{Message: "too slow"}).(map[string]any)
	if got["name"] != "TimeoutError" || got["message"] != "too slow" {
		t.Errorf("dehydrateError() = %v", got)
	}
}

func TestDehydratePlainError(t *testing.T) {
	t.Parallel()

	got := dehydrateError(errors.New("boom")).(map[string]any)
	if got["name"] != "Error" || got["message"] != "boom" {
		t.Errorf("dehydrateError() = %v", got)
	}
}

func TestDehydrateNil(t *testing.T) {
	t.Parallel()

	if got := dehydrateError(nil); got != nil {
		t.Errorf("dehydrateError(nil) = %v, want nil", got)
	}
}

func TestHydrateKnownNames(t *testing.T) {
	t.Parallel()

	err := hydrateError(map[string]any{"name": "BrokerError", "message": "down"})
	var brokerErr *BrokerError
	if !errors.As(err, &brokerErr) || brokerErr.Message != "down" {
		t.Errorf("hydrateError() = %v, want BrokerError", err)
	}
}

func TestHydrateUnknownName(t *testing.T) {
	t.Parallel()

	err := hydrateError(map[string]any{"name": "CustomError", "message": "odd"})
	if err == nil || err.Error() != "CustomError: odd" {
		t.Errorf("hydrateError() = %v", err)
	}
}

func TestHydrateNonObject(t *testing.T) {
	t.Parallel()

	if err := hydrateError("something went wrong"); err == nil {
		t.Error("hydrateError(string) = nil, want error")
	}
	if err := hydrateError(nil); err != nil {
		t.Errorf("hydrateError(nil) = %v, want nil", err)
	}
}

func TestRoundTripPreservesType(t *testing.T) {
	t.Parallel()

	wire := dehydrateError(&AuthTokenExpiredError{Message: "expired"})
	err := hydrateError(wire)
	var expired *AuthTokenExpiredError
	if !errors.As(err, &expired) {
		t.Errorf("round trip lost the error type: %v", err)
	}
}

package utils

import (
	"errors"
	"math/big"
	"testing"

	sdkmath "cosmossdk.io/math"
)

func TestSDKIntToFloat64(t *testing.T) {
	got, err := SDKIntToFloat64(sdkmath.NewInt(1_500_000), 6)
	if err != nil {
		t.Fatalf("conversion failed: %v", err)
	}
	if got != 1.5 {
		t.Fatalf("expected 1.5, got %f", got)
	}
}

func TestSDKIntToFloat64RejectsBadPrecision(t *testing.T) {
	if _, err := SDKIntToFloat64(sdkmath.NewInt(1), 19); !errors.Is(err, ErrInvalidPrecision) {
		t.Fatalf("expected ErrInvalidPrecision, got %v", err)
	}
	if _, err := SDKIntToFloat64(sdkmath.NewInt(1), -1); !errors.Is(err, ErrInvalidPrecision) {
		t.Fatalf("expected ErrInvalidPrecision, got %v", err)
	}
}

func TestSDKIntToFloat64RejectsNegative(t *testing.T) {
	if _, err := SDKIntToFloat64(sdkmath.NewInt(-1), 6); !errors.Is(err, ErrAmountNegative) {
		t.Fatalf("expected ErrAmountNegative, got %v", err)
	}
}

func TestBigToSDKIntRoundTrip(t *testing.T) {
	original := new(big.Int).Lsh(big.NewInt(1), 100)
	amount, err := BigToSDKInt(original)
	if err != nil {
		t.Fatalf("BigToSDKInt failed: %v", err)
	}
	back, err := SDKIntToBig(amount)
	if err != nil {
		t.Fatalf("SDKIntToBig failed: %v", err)
	}
	if back.Cmp(original) != 0 {
		t.Fatalf("round trip changed value: %s != %s", back, original)
	}
}

func TestBigToSDKIntRejectsNil(t *testing.T) {
	if _, err := BigToSDKInt(nil); !errors.Is(err, ErrAmountNil) {
		t.Fatalf("expected ErrAmountNil, got %v", err)
	}
}

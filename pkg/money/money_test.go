package money

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func d(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	v, err := decimal.NewFromString(s)
	if err != nil {
		t.Fatalf("decimal %q: %v", s, err)
	}
	return v
}

func TestCommission(t *testing.T) {
	cases := []struct {
		sent, rate, want string
	}{
		{"40.00", "0.02", "0.8"},     // 规格示例
		{"100.00", "0", "0"},         // 零费率
		{"33.33", "0.1", "3.33"},     // 3.333 -> 3.33
		{"33.35", "0.1", "3.34"},     // 3.335 -> 3.34（远离零）
		{"0.01", "0.02", "0"},        // 0.0002 -> 0.00
		{"99999.99", "0.5", "50000"}, // 49999.995 -> 50000.00
	}
	for _, c := range cases {
		got := Commission(d(t, c.sent), d(t, c.rate))
		if !got.Equal(d(t, c.want)) {
			t.Errorf("Commission(%s, %s) = %s, want %s", c.sent, c.rate, got, c.want)
		}
	}
}

func TestReceivedAmount(t *testing.T) {
	cases := []struct {
		sent, commission, conversion, want string
	}{
		{"40.00", "0.80", "1.00", "39.2"}, // 规格示例：同币种
		{"100.00", "2.00", "0.9131", "89.48"},
		{"100.00", "0", "1", "100"},
		{"10.00", "0.20", "73.45", "719.81"}, // 9.80 * 73.45 = 719.81
	}
	for _, c := range cases {
		got := ReceivedAmount(d(t, c.sent), d(t, c.commission), d(t, c.conversion))
		if !got.Equal(d(t, c.want)) {
			t.Errorf("ReceivedAmount(%s, %s, %s) = %s, want %s",
				c.sent, c.commission, c.conversion, got, c.want)
		}
	}
}

// 同币种（汇率=1）时 received = sent - commission 必须精确成立
func TestSameCurrencyIdentity(t *testing.T) {
	sent := d(t, "57.31")
	commission := Commission(sent, d(t, "0.035"))
	received := ReceivedAmount(sent, commission, d(t, "1"))
	if !received.Equal(sent.Sub(commission)) {
		t.Fatalf("received=%s want=%s", received, sent.Sub(commission))
	}
}

func TestParseAmount(t *testing.T) {
	valid := []string{"1", "0.01", "40.00", " 100.5 ", "99999.99"}
	for _, s := range valid {
		if _, err := ParseAmount(s); err != nil {
			t.Errorf("ParseAmount(%q) unexpected err: %v", s, err)
		}
	}
	invalid := []string{"", "abc", "0", "-1", "-0.01", "1.001", "0.005"}
	for _, s := range invalid {
		if _, err := ParseAmount(s); !errors.Is(err, ErrInvalidAmount) {
			t.Errorf("ParseAmount(%q) want ErrInvalidAmount, got %v", s, err)
		}
	}
}

func TestParseRate(t *testing.T) {
	if rate, err := ParseRate(" 0.02 "); err != nil || !rate.Equal(d(t, "0.02")) {
		t.Errorf("ParseRate(0.02) = %s, %v", rate, err)
	}
	for _, s := range []string{"", "x", "1..2"} {
		if _, err := ParseRate(s); !errors.Is(err, ErrInvalidRate) {
			t.Errorf("ParseRate(%q) want ErrInvalidRate, got %v", s, err)
		}
	}
}

func TestValidateRates(t *testing.T) {
	if err := ValidateCommissionRate(d(t, "0")); err != nil {
		t.Errorf("rate 0 should be valid: %v", err)
	}
	if err := ValidateCommissionRate(d(t, "0.999")); err != nil {
		t.Errorf("rate 0.999 should be valid: %v", err)
	}
	for _, s := range []string{"1", "1.5", "-0.01"} {
		if err := ValidateCommissionRate(d(t, s)); !errors.Is(err, ErrInvalidCommissionRate) {
			t.Errorf("commission rate %s want ErrInvalidCommissionRate, got %v", s, err)
		}
	}
	if err := ValidateConversionRate(d(t, "73.45")); err != nil {
		t.Errorf("conversion 73.45 should be valid: %v", err)
	}
	for _, s := range []string{"0", "-1"} {
		if err := ValidateConversionRate(d(t, s)); !errors.Is(err, ErrInvalidConversionRate) {
			t.Errorf("conversion rate %s want ErrInvalidConversionRate, got %v", s, err)
		}
	}
}

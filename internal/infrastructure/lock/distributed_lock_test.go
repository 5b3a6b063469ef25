package lock

import "testing"

// 加锁顺序必须全局一致，否则 A->B 与 B->A 并发会死锁
func TestOrderAccountIDs(t *testing.T) {
	cases := []struct {
		a, b, wantFirst, wantSecond int64
	}{
		{1, 2, 1, 2},
		{2, 1, 1, 2},
		{7, 7, 7, 7},
		{100, 3, 3, 100},
	}
	for _, c := range cases {
		first, second := OrderAccountIDs(c.a, c.b)
		if first != c.wantFirst || second != c.wantSecond {
			t.Errorf("OrderAccountIDs(%d,%d) = (%d,%d), want (%d,%d)",
				c.a, c.b, first, second, c.wantFirst, c.wantSecond)
		}
	}
}

func TestAccountLockKey(t *testing.T) {
	if got := accountLockKey(42); got != "ledger:lock:account:42" {
		t.Fatalf("accountLockKey(42) = %q", got)
	}
}

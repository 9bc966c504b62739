package transit

import "testing"

func TestBlurSizeBuckets(t *testing.T) {
	cases := []struct {
		in, want int64
	}{
		{0, 0},
		{1, 10000},
		{10000, 10000},
		{10001, 20000},
		{999999, 1000000},
		{1000001, 2000000},
		{999999999, 1000000000},
		{1000000001, 1100000000},
	}
	for _, c := range cases {
		if got := blurSize(c.in); got != c.want {
			t.Errorf("blurSize(%d) = %d, want %d", c.in, got, c.want)
		}
	}
}

package providera

import (
	"testing"
	"time"
)

func day(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

func formatDates(ds []time.Time) []string {
	out := make([]string, len(ds))
	for i, d := range ds {
		out[i] = d.Format("2006-01-02")
	}
	return out
}

func TestDueDates(t *testing.T) {
	cases := []struct {
		name  string
		today string
		want  []string
	}{
		{name: "monday", today: "2024-02-05", want: []string{"2024-02-09"}},
		{name: "tuesday covers the weekend", today: "2024-02-06", want: []string{"2024-02-12", "2024-02-11", "2024-02-10"}},
		{name: "friday", today: "2024-02-09", want: []string{"2024-02-15"}},
		{name: "saturday sends nothing", today: "2024-02-10", want: nil},
		{name: "easter holidays are skipped", today: "2024-03-27", want: []string{"2024-04-05"}},
		{name: "holiday sends nothing", today: "2024-05-17", want: nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := formatDates(DueDates(day(tc.today)))
			if len(got) != len(tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, got)
			}
			for i := range got {
				if got[i] != tc.want[i] {
					t.Fatalf("expected %v, got %v", tc.want, got)
				}
			}
		})
	}
}

package trading

import (
	"time"
	_ "time/tzdata"
)

// 美东时区，夏令时由 tzdata 处理
var nyse = mustLoad("America/New_York")

func mustLoad(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.FixedZone("EST", -5*3600)
	}
	return loc
}

// TimeRange 时间范围，左闭右开
type TimeRange struct {
	StartHour   int
	StartMinute int
	EndHour     int
	EndMinute   int
}

// Session 交易时段
type Session string

const (
	PreMarket  Session = "pre-market"
	Regular    Session = "open"
	AfterHours Session = "after-hours"
	Closed     Session = "closed"
)

var sessions = []struct {
	Session Session
	Range   TimeRange
}{
	{PreMarket, TimeRange{4, 0, 9, 30}},
	{Regular, TimeRange{9, 30, 16, 0}},
	{AfterHours, TimeRange{16, 0, 20, 0}},
}

// MarketStatus /api/market/status 的返回体
type MarketStatus struct {
	Market    string    `json:"market"`
	Session   Session   `json:"session"`
	IsOpen    bool      `json:"isOpen"`
	LocalTime string    `json:"localTime"`
	Timezone  string    `json:"timezone"`
	Holiday   string    `json:"holiday,omitempty"`
	NextOpen  time.Time `json:"nextOpen"`
}

// SessionAt 判断指定时间所处的交易时段
func SessionAt(t time.Time) Session {
	t = t.In(nyse)
	if !IsTradingDay(t) {
		return Closed
	}
	for _, s := range sessions {
		if inRange(t, s.Range) {
			return s.Session
		}
	}
	return Closed
}

// IsMarketOpen 判断当前是否为常规交易时段
func IsMarketOpen() bool {
	return IsMarketOpenAt(time.Now())
}

func IsMarketOpenAt(t time.Time) bool {
	return SessionAt(t) == Regular
}

// IsTradingDay 工作日且非交易所假日
func IsTradingDay(t time.Time) bool {
	t = t.In(nyse)
	if wd := t.Weekday(); wd == time.Saturday || wd == time.Sunday {
		return false
	}
	_, holiday := HolidayName(t)
	return !holiday
}

// NextOpenAfter 返回 t 之后（不含 t）最近一次常规时段开盘时间
func NextOpenAfter(t time.Time) time.Time {
	t = t.In(nyse)
	day := time.Date(t.Year(), t.Month(), t.Day(), 9, 30, 0, 0, nyse)
	for i := 0; i < 15; i++ {
		if day.After(t) && IsTradingDay(day) {
			return day
		}
		day = time.Date(day.Year(), day.Month(), day.Day()+1, 9, 30, 0, 0, nyse)
	}
	return day
}

// StatusAt 汇总指定时间的市场状态
func StatusAt(t time.Time) MarketStatus {
	local := t.In(nyse)
	s := SessionAt(local)
	st := MarketStatus{
		Market:    "US",
		Session:   s,
		IsOpen:    s == Regular,
		LocalTime: local.Format("2006-01-02 15:04:05"),
		Timezone:  nyse.String(),
		NextOpen:  NextOpenAfter(local),
	}
	if name, ok := HolidayName(local); ok {
		st.Holiday = name
	}
	return st
}

func inRange(t time.Time, r TimeRange) bool {
	cur := t.Hour()*60 + t.Minute()
	return cur >= r.StartHour*60+r.StartMinute && cur < r.EndHour*60+r.EndMinute
}

// HolidayName 返回 NYSE 全天休市假日名称。半日市不计入。
func HolidayName(t time.Time) (string, bool) {
	t = t.In(nyse)
	y, m, d := t.Date()
	for _, h := range holidays(y) {
		if h.month == m && h.day == d {
			return h.name, true
		}
	}
	return "", false
}

type holiday struct {
	name  string
	month time.Month
	day   int
}

func holidays(year int) []holiday {
	fixed := func(name string, m time.Month, d int) holiday {
		date := time.Date(year, m, d, 0, 0, 0, 0, time.UTC)
		switch date.Weekday() {
		case time.Saturday:
			date = date.AddDate(0, 0, -1)
		case time.Sunday:
			date = date.AddDate(0, 0, 1)
		}
		return holiday{name, date.Month(), date.Day()}
	}
	nth := func(name string, m time.Month, wd time.Weekday, n int) holiday {
		date := time.Date(year, m, 1, 0, 0, 0, 0, time.UTC)
		for date.Weekday() != wd {
			date = date.AddDate(0, 0, 1)
		}
		date = date.AddDate(0, 0, 7*(n-1))
		return holiday{name, m, date.Day()}
	}
	last := func(name string, m time.Month, wd time.Weekday) holiday {
		date := time.Date(year, m+1, 0, 0, 0, 0, 0, time.UTC)
		for date.Weekday() != wd {
			date = date.AddDate(0, 0, -1)
		}
		return holiday{name, m, date.Day()}
	}
	gf := easter(year).AddDate(0, 0, -2)

	hs := []holiday{
		nth("Martin Luther King Jr. Day", time.January, time.Monday, 3),
		nth("Washington's Birthday", time.February, time.Monday, 3),
		{"Good Friday", gf.Month(), gf.Day()},
		last("Memorial Day", time.May, time.Monday),
		fixed("Independence Day", time.July, 4),
		nth("Labor Day", time.September, time.Monday, 1),
		nth("Thanksgiving Day", time.November, time.Thursday, 4),
		fixed("Christmas Day", time.December, 25),
	}
	// 元旦落在周六时不补休
	if ny := time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC); ny.Weekday() != time.Saturday {
		hs = append(hs, fixed("New Year's Day", time.January, 1))
	}
	if year >= 2022 {
		hs = append(hs, fixed("Juneteenth", time.June, 19))
	}
	return hs
}

// easter 公历复活节（匿名算法）
func easter(year int) time.Time {
	a := year % 19
	b, c := year/100, year%100
	d, e := b/4, b%4
	f := (b + 8) / 25
	g := (b - f + 1) / 3
	h := (19*a + b - d - g + 15) % 30
	i, k := c/4, c%4
	l := (32 + 2*e + 2*i - h - k) % 7
	m := (a + 11*h + 22*l) / 451
	month := (h + l - 7*m + 114) / 31
	day := (h+l-7*m+114)%31 + 1
	return time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
}

package xquery

import (
	"cmp"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Duration is the value of xs:duration and of its dayTimeDuration and
// yearMonthDuration subtypes.
type Duration struct {
	Months int64
	Time   time.Duration
}

var durationPattern = regexp.MustCompile(`^(-)?P(?:(\d+)Y)?(?:(\d+)M)?(?:(\d+)D)?(?:T(?:(\d+)H)?(?:(\d+)M)?(?:(\d+(?:\.\d+)?)S)?)?$`)

// ParseDuration parses the lexical form of an xs:duration, such as P1Y2M or
// -P3DT4H5.5S.
func ParseDuration(str string) (Duration, error) {
	str = strings.TrimSpace(str)
	parts := durationPattern.FindStringSubmatch(str)
	if parts == nil || strings.HasSuffix(str, "P") || strings.HasSuffix(str, "T") {
		return Duration{}, dynamicError(CodeCastFailed, "%q: invalid duration", str)
	}
	var (
		values [6]float64
		err    error
	)
	for i, p := range parts[2:] {
		if p == "" {
			continue
		}
		if values[i], err = strconv.ParseFloat(p, 64); err != nil {
			return Duration{}, dynamicError(CodeCastFailed, "%q: invalid duration", str)
		}
	}
	var (
		months = values[0]*12 + values[1]
		secs   = values[2]*86400 + values[3]*3600 + values[4]*60 + values[5]
	)
	if months > math.MaxInt32 || secs*float64(time.Second) >= math.MaxInt64 {
		return Duration{}, dynamicError("FODT0002", "%q: duration overflow", str)
	}
	d := Duration{
		Months: int64(months),
		Time:   time.Duration(math.Round(secs * float64(time.Second))),
	}
	if parts[1] != "" {
		d.Months, d.Time = -d.Months, -d.Time
	}
	return d, nil
}

func (d Duration) DayTime() Duration {
	return Duration{Time: d.Time}
}

func (d Duration) YearMonth() Duration {
	return Duration{Months: d.Months}
}

func (d Duration) IsDayTime() bool {
	return d.Months == 0
}

func (d Duration) IsYearMonth() bool {
	return d.Time == 0
}

func (d Duration) Equal(other Duration) bool {
	return d.Months == other.Months && d.Time == other.Time
}

func (d Duration) String() string {
	if d.Months == 0 && d.Time == 0 {
		return "PT0S"
	}
	var (
		str    strings.Builder
		months = d.Months
		tm     = d.Time
	)
	if months < 0 || tm < 0 {
		str.WriteString("-")
		months, tm = -months, -tm
	}
	str.WriteString("P")
	if y := months / 12; y > 0 {
		str.WriteString(strconv.FormatInt(y, 10) + "Y")
	}
	if m := months % 12; m > 0 {
		str.WriteString(strconv.FormatInt(m, 10) + "M")
	}
	day := 24 * time.Hour
	if n := tm / day; n > 0 {
		str.WriteString(strconv.FormatInt(int64(n), 10) + "D")
		tm -= n * day
	}
	if tm == 0 {
		return str.String()
	}
	str.WriteString("T")
	if h := tm / time.Hour; h > 0 {
		str.WriteString(strconv.FormatInt(int64(h), 10) + "H")
		tm -= h * time.Hour
	}
	if m := tm / time.Minute; m > 0 {
		str.WriteString(strconv.FormatInt(int64(m), 10) + "M")
		tm -= m * time.Minute
	}
	if tm > 0 {
		str.WriteString(strconv.FormatFloat(tm.Seconds(), 'f', -1, 64) + "S")
	}
	return str.String()
}

// compareDurations orders two durations. Durations mixing months and
// seconds are only comparable for equality.
func compareDurations(a, b Duration) (int, error) {
	switch {
	case a.Equal(b):
		return 0, nil
	case a.IsYearMonth() && b.IsYearMonth():
		return cmp.Compare(a.Months, b.Months), nil
	case a.IsDayTime() && b.IsDayTime():
		return cmp.Compare(a.Time, b.Time), nil
	default:
		return 0, dynamicError(CodeTypeError, "%s and %s are not ordered", a, b)
	}
}

func castDuration(value any, sub string) (Duration, error) {
	d, ok := value.(Duration)
	if !ok {
		var err error
		switch value.(type) {
		case string, Untyped:
			d, err = ParseDuration(formatAtomic(value))
		default:
			err = dynamicError(CodeTypeError, "%s can not be cast to xs:%s", formatAtomic(value), sub)
		}
		if err != nil {
			return d, err
		}
		if sub == "dayTimeDuration" && !d.IsDayTime() || sub == "yearMonthDuration" && !d.IsYearMonth() {
			return d, dynamicError(CodeCastFailed, "%q: invalid xs:%s", formatAtomic(value), sub)
		}
	}
	switch sub {
	case "dayTimeDuration":
		return d.DayTime(), nil
	case "yearMonthDuration":
		return d.YearMonth(), nil
	default:
		return d, nil
	}
}

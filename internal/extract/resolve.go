package extract

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	isoDatePattern   = regexp.MustCompile(`\b(\d{4})-(\d{2})-(\d{2})\b`)
	monthDayPattern  = regexp.MustCompile(`(?i)\b(jan|feb|mar|apr|may|jun|jul|aug|sep|oct|nov|dec)[a-z]*\.?\s+(\d{1,2})(?:st|nd|rd|th)?(?:,?\s*(\d{4}))?\b`)
	weekdayPattern   = regexp.MustCompile(`(?i)\b(?:next\s+)?(monday|tuesday|wednesday|thursday|friday|saturday|sunday)\b`)
	clockPattern     = regexp.MustCompile(`(?i)\b(\d{1,2})(?::(\d{2}))?\s*(am|pm)\b|\b(\d{1,2}):(\d{2})\b`)
	untilPattern     = regexp.MustCompile(`(?i)\b(?:until|till|to)\s+(\d{1,2}:\d{2}\s*(?:am|pm)?|\d{1,2}\s*(?:am|pm))`)
	durationPattern  = regexp.MustCompile(`(?i)\bfor\s+(\d+(?:\.\d+)?)\s*(hours?|hrs?|h|minutes?|mins?|m)\b`)
	anHourPattern    = regexp.MustCompile(`(?i)\bfor\s+(?:an|one)\s+hour\b`)
	noonPattern      = regexp.MustCompile(`(?i)\bnoon\b`)
	halfHourPattern  = regexp.MustCompile(`(?i)\bfor\s+half\s+an\s+hour\b`)
	monthsByPrefix   = map[string]time.Month{"jan": time.January, "feb": time.February, "mar": time.March, "apr": time.April, "may": time.May, "jun": time.June, "jul": time.July, "aug": time.August, "sep": time.September, "oct": time.October, "nov": time.November, "dec": time.December}
	weekdaysByName   = map[string]time.Weekday{"monday": time.Monday, "tuesday": time.Tuesday, "wednesday": time.Wednesday, "thursday": time.Thursday, "friday": time.Friday, "saturday": time.Saturday, "sunday": time.Sunday}
)

// resolveDate finds a calendar date in text, anchoring relative expressions
// ("tomorrow", "next monday") against anchor. Bare weekday names resolve to
// the soonest occurrence strictly after the anchor date.
func resolveDate(text string, anchor time.Time) (time.Time, bool) {
	lower := strings.ToLower(text)
	day := truncateToDay(anchor)

	if m := isoDatePattern.FindStringSubmatch(text); m != nil {
		year, _ := strconv.Atoi(m[1])
		month, _ := strconv.Atoi(m[2])
		dom, _ := strconv.Atoi(m[3])
		if month >= 1 && month <= 12 && dom >= 1 && dom <= 31 {
			return time.Date(year, time.Month(month), dom, 0, 0, 0, 0, anchor.Location()), true
		}
	}

	if m := monthDayPattern.FindStringSubmatch(text); m != nil {
		month := monthsByPrefix[strings.ToLower(m[1])]
		dom, _ := strconv.Atoi(m[2])
		year := day.Year()
		if m[3] != "" {
			year, _ = strconv.Atoi(m[3])
		}
		d := time.Date(year, month, dom, 0, 0, 0, 0, anchor.Location())
		if m[3] == "" && d.Before(day) {
			d = d.AddDate(1, 0, 0)
		}
		return d, true
	}

	if strings.Contains(lower, "day after tomorrow") {
		return day.AddDate(0, 0, 2), true
	}
	if strings.Contains(lower, "tomorrow") {
		return day.AddDate(0, 0, 1), true
	}
	if strings.Contains(lower, "today") {
		return day, true
	}

	if m := weekdayPattern.FindStringSubmatch(text); m != nil {
		target := weekdaysByName[strings.ToLower(m[1])]
		ahead := (int(target) - int(day.Weekday()) + 7) % 7
		if ahead == 0 {
			ahead = 7
		}
		return day.AddDate(0, 0, ahead), true
	}

	return time.Time{}, false
}

// resolveWindow finds the time window in text. The start is the first clock
// mention, the end comes from an "until"/"to" clause or a "for N hours"
// duration. With neither, the window defaults to one hour.
func resolveWindow(text string, date time.Time) (start, end time.Time, ok bool) {
	untilLoc := untilPattern.FindStringSubmatchIndex(text)

	startSearch := text
	if untilLoc != nil {
		startSearch = text[:untilLoc[0]]
	}
	startClock, found := firstClock(startSearch)
	if !found {
		return time.Time{}, time.Time{}, false
	}
	start = date.Add(startClock)

	if untilLoc != nil {
		endText := text[untilLoc[2]:untilLoc[3]]
		if endClock, endOK := firstClock(endText); endOK {
			end = date.Add(endClock)
			if !end.After(start) {
				end = end.AddDate(0, 0, 1)
			}
			return start, end, true
		}
	}

	if d, found := resolveDuration(text); found {
		return start, start.Add(d), true
	}
	return start, start.Add(time.Hour), true
}

func resolveDuration(text string) (time.Duration, bool) {
	if m := durationPattern.FindStringSubmatch(text); m != nil {
		amount, err := strconv.ParseFloat(m[1], 64)
		if err != nil || amount <= 0 {
			return 0, false
		}
		unit := strings.ToLower(m[2])
		if strings.HasPrefix(unit, "h") {
			return time.Duration(amount * float64(time.Hour)), true
		}
		return time.Duration(amount * float64(time.Minute)), true
	}
	if anHourPattern.MatchString(text) {
		return time.Hour, true
	}
	if halfHourPattern.MatchString(text) {
		return 30 * time.Minute, true
	}
	return 0, false
}

// firstClock parses the first clock mention into an offset from midnight.
func firstClock(text string) (time.Duration, bool) {
	m := clockPattern.FindStringSubmatch(text)
	if m == nil {
		if noonPattern.MatchString(text) {
			return 12 * time.Hour, true
		}
		return 0, false
	}
	if m[1] != "" {
		hour, _ := strconv.Atoi(m[1])
		minute := 0
		if m[2] != "" {
			minute, _ = strconv.Atoi(m[2])
		}
		if hour < 1 || hour > 12 || minute > 59 {
			return 0, false
		}
		meridiem := strings.ToLower(m[3])
		if meridiem == "pm" && hour != 12 {
			hour += 12
		}
		if meridiem == "am" && hour == 12 {
			hour = 0
		}
		return time.Duration(hour)*time.Hour + time.Duration(minute)*time.Minute, true
	}
	hour, _ := strconv.Atoi(m[4])
	minute, _ := strconv.Atoi(m[5])
	if hour > 23 || minute > 59 {
		return 0, false
	}
	return time.Duration(hour)*time.Hour + time.Duration(minute)*time.Minute, true
}

// parseClock parses a standalone clock string such as "14:00" or "2pm".
func parseClock(s string) (time.Duration, bool) {
	return firstClock(strings.TrimSpace(s))
}

func truncateToDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

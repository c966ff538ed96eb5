package services

import (
	"sort"
	"strings"
	"time"

	"github.com/6tail/lunar-go/HolidayUtil"
	"github.com/6tail/lunar-go/calendar"
	"github.com/rickar/cal/v2"
	"github.com/rickar/cal/v2/at"
	"github.com/rickar/cal/v2/au"
	"github.com/rickar/cal/v2/be"
	"github.com/rickar/cal/v2/br"
	"github.com/rickar/cal/v2/ca"
	"github.com/rickar/cal/v2/ch"
	"github.com/rickar/cal/v2/de"
	"github.com/rickar/cal/v2/dk"
	"github.com/rickar/cal/v2/es"
	"github.com/rickar/cal/v2/fi"
	"github.com/rickar/cal/v2/fr"
	"github.com/rickar/cal/v2/gb"
	"github.com/rickar/cal/v2/ie"
	"github.com/rickar/cal/v2/it"
	"github.com/rickar/cal/v2/jp"
	"github.com/rickar/cal/v2/nl"
	"github.com/rickar/cal/v2/no"
	"github.com/rickar/cal/v2/nz"
	"github.com/rickar/cal/v2/pl"
	"github.com/rickar/cal/v2/pt"
	"github.com/rickar/cal/v2/se"
	"github.com/rickar/cal/v2/us"
)

const (
	// CountryChina uses the official adjusted-workday table instead of a business calendar.
	CountryChina = "CN"
	// CountryWeekdays skips Saturdays and Sundays only.
	CountryWeekdays = "NONE"
)

var countryHolidays = map[string]struct {
	name     string
	holidays []*cal.Holiday
}{
	"US": {"United States", us.Holidays},
	"GB": {"United Kingdom", gb.Holidays},
	"DE": {"Germany", de.Holidays},
	"FR": {"France", fr.Holidays},
	"JP": {"Japan", jp.Holidays},
	"AU": {"Australia", au.HolidaysNSW},
	"CA": {"Canada", ca.Holidays},
	"NZ": {"New Zealand", nz.Holidays},
	"IT": {"Italy", it.Holidays},
	"ES": {"Spain", es.Holidays},
	"NL": {"Netherlands", nl.Holidays},
	"BE": {"Belgium", be.Holidays},
	"AT": {"Austria", at.Holidays},
	"CH": {"Switzerland", ch.Holidays},
	"SE": {"Sweden", se.Holidays},
	"NO": {"Norway", no.Holidays},
	"DK": {"Denmark", dk.Holidays},
	"FI": {"Finland", fi.Holidays},
	"PL": {"Poland", pl.Holidays},
	"PT": {"Portugal", pt.Holidays},
	"IE": {"Ireland", ie.Holidays},
	"BR": {"Brazil", br.Holidays},
}

// WorkdayCalendar decides whether a daily report should be sent on a given day
// for a configuration's holiday country.
type WorkdayCalendar interface {
	IsWorkday(t time.Time, countryCode string) bool
}

type HolidayService struct {
	calendars map[string]*cal.BusinessCalendar
}

func NewHolidayService() *HolidayService {
	s := &HolidayService{calendars: make(map[string]*cal.BusinessCalendar, len(countryHolidays))}
	for code, c := range countryHolidays {
		bc := cal.NewBusinessCalendar()
		bc.Name = c.name
		bc.AddHoliday(c.holidays...)
		s.calendars[code] = bc
	}
	return s
}

// IsWorkday reports whether t is a working day in the given country. An empty
// code means every day is a workday; unknown codes fall back to weekdays only.
func (s *HolidayService) IsWorkday(t time.Time, countryCode string) bool {
	code := strings.ToUpper(strings.TrimSpace(countryCode))
	switch code {
	case "":
		return true
	case CountryChina:
		return isWorkdayChina(t)
	case CountryWeekdays:
		return !cal.IsWeekend(t)
	}

	c, ok := s.calendars[code]
	if !ok {
		return !cal.IsWeekend(t)
	}
	return c.IsWorkday(t)
}

func isWorkdayChina(t time.Time) bool {
	solar := calendar.NewSolarFromDate(t)
	holiday := HolidayUtil.GetHolidayByYmd(solar.GetYear(), solar.GetMonth(), solar.GetDay())
	if holiday != nil {
		return holiday.IsWork()
	}
	return !cal.IsWeekend(t)
}

// SupportsCountry reports whether code names a known calendar.
func (s *HolidayService) SupportsCountry(code string) bool {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == CountryChina || code == CountryWeekdays {
		return true
	}
	_, ok := s.calendars[code]
	return ok
}

type CountryInfo struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

// SupportedCountries lists every accepted holiday country, sorted by code.
func (s *HolidayService) SupportedCountries() []CountryInfo {
	countries := []CountryInfo{
		{Code: CountryChina, Name: "China"},
		{Code: CountryWeekdays, Name: "Weekdays Only (Mon-Fri)"},
	}
	for code, c := range countryHolidays {
		countries = append(countries, CountryInfo{Code: code, Name: c.name})
	}
	sort.Slice(countries, func(i, j int) bool { return countries[i].Code < countries[j].Code })
	return countries
}

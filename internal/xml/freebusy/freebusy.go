// Package freebusy parses busy-query report requests and renders the
// per-day busy report as XML.
package freebusy

import (
	"fmt"
	"strings"
	"time"

	"github.com/beevik/etree"

	"github.com/jhenriksen/calcache/caltime"
	"github.com/jhenriksen/calcache/materialize"
)

// Busy is the namespace of the busy report vocabulary.
const Busy = "urn:calcache:busy"

const timeFormat = "20060102T150405Z"

// Request is a parsed busy-query: a closed UTC window to report on.
type Request struct {
	Start time.Time
	End   time.Time
}

// ParseRequest parses a busy-query request body:
//
//	<B:busy-query xmlns:B="urn:calcache:busy">
//	  <B:time-range start="20260301T000000Z" end="20260401T000000Z"/>
//	</B:busy-query>
//
// Namespace prefixes on the tags are ignored.
func ParseRequest(xmlStr string) (*Request, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromString(xmlStr); err != nil {
		return nil, fmt.Errorf("malformed busy-query: %w", err)
	}
	root := doc.Root()
	if root == nil || localName(root.Tag) != "busy-query" {
		return nil, fmt.Errorf("expected busy-query root element")
	}

	tr := findLocal(root, "time-range")
	if tr == nil {
		return nil, fmt.Errorf("busy-query is missing time-range")
	}

	start, err := parseRangeAttr(tr, "start")
	if err != nil {
		return nil, err
	}
	end, err := parseRangeAttr(tr, "end")
	if err != nil {
		return nil, err
	}
	if end.Before(start) {
		return nil, fmt.Errorf("time-range end %s precedes start %s",
			end.Format(timeFormat), start.Format(timeFormat))
	}
	return &Request{Start: start, End: end}, nil
}

// Days converts the request window into the day span BusyBits expects,
// using the display zone for day boundaries.
func (r *Request) Days(loc *time.Location) (startDay, numDays int) {
	return caltime.DaySpan(r.Start, r.End, loc)
}

// BuildResponse renders the busy report:
//
//	<B:busy-report xmlns:B="urn:calcache:busy" timezone="America/Los_Angeles">
//	  <B:day julian="2461101" date="2026-03-01" busy="0x00038600" all-day-count="1"/>
//	  ...
//	</B:busy-report>
//
// busy is the 24-bit hour mask in hex with bit 0 for the local hour
// starting at midnight. Days with no occupancy are still listed so the
// report covers the full requested span.
func BuildResponse(days []materialize.DayBusy, loc *time.Location) *etree.Document {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)

	root := doc.CreateElement("B:busy-report")
	root.CreateAttr("xmlns:B", Busy)
	root.CreateAttr("timezone", loc.String())

	for _, d := range days {
		elem := root.CreateElement("B:day")
		elem.CreateAttr("julian", fmt.Sprintf("%d", d.JulianDay))
		elem.CreateAttr("date", caltime.DayStart(d.JulianDay, loc).Format("2006-01-02"))
		elem.CreateAttr("busy", fmt.Sprintf("0x%08x", d.Busy))
		elem.CreateAttr("all-day-count", fmt.Sprintf("%d", d.AllDayCount))
	}

	doc.Indent(2)
	return doc
}

func parseRangeAttr(elem *etree.Element, name string) (time.Time, error) {
	raw := elem.SelectAttrValue(name, "")
	if raw == "" {
		return time.Time{}, fmt.Errorf("time-range is missing %s", name)
	}
	t, err := time.Parse(timeFormat, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("bad time-range %s %q: %w", name, raw, err)
	}
	return t, nil
}

// findLocal returns the first child element whose tag matches name,
// regardless of namespace prefix.
func findLocal(parent *etree.Element, name string) *etree.Element {
	for _, child := range parent.ChildElements() {
		if localName(child.Tag) == name {
			return child
		}
	}
	return nil
}

func localName(tag string) string {
	if i := strings.LastIndex(tag, ":"); i >= 0 {
		return tag[i+1:]
	}
	return tag
}

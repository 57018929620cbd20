package sip2

import (
	"fmt"
	"strings"
	"time"
)

// timestampLayout is the fixed 18-byte SIP2 timestamp: date, four spaces for
// the (unused) zone field, then time. Always rendered in UTC.
const timestampLayout = "20060102    150405"

// timeNow is swapped out by tests that need a fixed clock.
var timeNow = time.Now

// Timestamp renders t as an 18-byte SIP2 transaction date in UTC.
func Timestamp(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

func nowStamp() string {
	return Timestamp(timeNow())
}

// field renders one variable-length field: tag, sanitized value, pipe.
func field(tag, value string) string {
	return tag + Sanitize(value) + "|"
}

// lang3 normalizes a language code to the three-digit form, defaulting to 001.
func lang3(lang string) string {
	lang = Sanitize(lang)
	if lang == "" {
		return "001"
	}
	if len(lang) > 3 {
		return lang[:3]
	}
	return strings.Repeat("0", 3-len(lang)) + lang
}

// pad2 normalizes a two-byte enumerated code, falling back to def when empty.
func pad2(v, def string) string {
	v = Sanitize(v)
	if v == "" {
		v = def
	}
	if len(v) > 2 {
		return v[:2]
	}
	return strings.Repeat("0", 2-len(v)) + v
}

// currency3 pads a currency code to exactly three bytes with trailing spaces.
func currency3(ccy string) string {
	ccy = Sanitize(ccy)
	if ccy == "" {
		ccy = "USD"
	}
	if len(ccy) > 3 {
		ccy = ccy[:3]
	}
	return ccy + strings.Repeat(" ", 3-len(ccy))
}

const nbDueDate = "                  " // 18 spaces: no block due date requested

// BuildLogin formats a Login (93) request. Both the UID and PWD algorithm
// bytes are 0 (plain text).
func BuildLogin(user, password, location string, seq int) (string, error) {
	body := "9300" +
		field("CN", user) +
		field("CO", password) +
		field("CP", location)
	return AppendTrailer(body, seq)
}

// BuildPatronStatus formats a Patron Status Request (23).
func BuildPatronStatus(institution, barcode, language string, seq int) (string, error) {
	body := "23" + lang3(language) + nowStamp() +
		field("AO", institution) +
		field("AA", barcode) +
		field("AC", "")
	return AppendTrailer(body, seq)
}

// BuildCheckout formats a Checkout (11) request. SC renewal policy is Y and
// no-block is N; the no-block due date is blank.
func BuildCheckout(institution, patronBarcode, itemBarcode, patronPin string, seq int) (string, error) {
	body := "11YN" + nowStamp() + nbDueDate +
		field("AO", institution) +
		field("AA", patronBarcode) +
		field("AB", itemBarcode) +
		field("AC", "")
	if patronPin != "" {
		body += field("AD", patronPin)
	}
	return AppendTrailer(body, seq)
}

// BuildCheckin formats a Checkin (09) request. The return date mirrors the
// transaction date.
func BuildCheckin(institution, itemBarcode string, seq int) (string, error) {
	ts := nowStamp()
	body := "09N" + ts + ts +
		field("AO", institution) +
		field("AB", itemBarcode) +
		field("AC", "")
	return AppendTrailer(body, seq)
}

// BuildItemInformation formats an Item Information (17) request.
func BuildItemInformation(institution, itemBarcode string, seq int) (string, error) {
	body := "17" + nowStamp() +
		field("AO", institution) +
		field("AB", itemBarcode)
	return AppendTrailer(body, seq)
}

// BuildRenew formats a Renew (29) request.
func BuildRenew(institution, patronBarcode, itemBarcode, patronPin string, seq int) (string, error) {
	body := "29YN" + nowStamp() + nbDueDate +
		field("AO", institution) +
		field("AA", patronBarcode) +
		field("AB", itemBarcode)
	if patronPin != "" {
		body += field("AD", patronPin)
	}
	return AppendTrailer(body, seq)
}

// BuildFeePaid formats a Fee Paid (37) request. The fixed currency field is
// padded to three bytes; the BH copy carries the trimmed form.
func BuildFeePaid(institution, patronBarcode, feeID, amount, feeType, paymentType, currency string, seq int) (string, error) {
	ccy := currency3(currency)
	body := "37" + nowStamp() +
		pad2(feeType, "01") +
		pad2(paymentType, "00") +
		ccy +
		field("AO", institution) +
		field("AA", patronBarcode) +
		field("BK", feeID) +
		field("BV", amount) +
		field("BH", strings.TrimRight(ccy, " "))
	return AppendTrailer(body, seq)
}

// PatronSummary selects which detail list a Patron Information request asks
// the LMS to expand.
type PatronSummary struct {
	Holds   bool
	Overdue bool
	Charged bool
	Fines   bool
	Recall  bool
}

func (s PatronSummary) encode() string {
	flags := []bool{s.Holds, s.Overdue, s.Charged, s.Fines, s.Recall}
	b := make([]byte, 10)
	for i := range b {
		b[i] = ' '
	}
	for i, set := range flags {
		if set {
			b[i] = 'Y'
		}
	}
	return string(b)
}

// BuildPatronInformation formats a Patron Information (63) request.
// startItem and endItem bound the requested detail list; non-positive values
// fall back to the full range.
func BuildPatronInformation(institution, barcode, language string, summary PatronSummary, startItem, endItem, seq int) (string, error) {
	if startItem <= 0 {
		startItem = 1
	}
	if endItem <= 0 {
		endItem = 9999
	}
	body := "63" + lang3(language) + nowStamp() + summary.encode() +
		field("AO", institution) +
		field("AA", barcode) +
		field("BP", fmt.Sprintf("%04d", startItem)) +
		field("BQ", fmt.Sprintf("%04d", endItem))
	return AppendTrailer(body, seq)
}

// Hold modes for BuildHold.
const (
	HoldModeAdd    = '+'
	HoldModeDelete = '-'
	HoldModeChange = '*'
)

// BuildHold formats a Hold (15) request. mode must be one of '+', '-', '*'.
func BuildHold(institution, patronBarcode string, mode byte, itemBarcode, expiryDate, pickupLocation, titleID string, seq int) (string, error) {
	if mode != HoldModeAdd && mode != HoldModeDelete && mode != HoldModeChange {
		return "", fmt.Errorf("sip2: invalid hold mode %q", string(mode))
	}
	body := "15" + string(mode) + nowStamp()
	if expiryDate != "" {
		body += field("BW", expiryDate)
	}
	body += field("AO", institution) + field("AA", patronBarcode)
	if itemBarcode != "" {
		body += field("AB", itemBarcode)
	}
	if titleID != "" {
		body += field("BT", titleID)
	}
	if pickupLocation != "" {
		body += field("BS", pickupLocation)
	}
	body += field("AC", "")
	return AppendTrailer(body, seq)
}

// BuildRenewAll formats a Renew All (65) request.
func BuildRenewAll(institution, patronBarcode string, seq int) (string, error) {
	ts := nowStamp()
	body := "65" + ts + ts +
		field("AO", institution) +
		field("AA", patronBarcode) +
		field("AC", "")
	return AppendTrailer(body, seq)
}

// BuildEndSession formats an End Patron Session (35) request.
func BuildEndSession(institution, patronBarcode string, seq int) (string, error) {
	body := "35" + nowStamp() +
		field("AO", institution) +
		field("AA", patronBarcode) +
		field("AC", "")
	return AppendTrailer(body, seq)
}

// BuildSCStatus formats an SC Status (99) request: status OK, print width 80,
// protocol 2.00.
func BuildSCStatus(seq int) (string, error) {
	return AppendTrailer("9900802.00", seq)
}

// BuildBlockPatron formats a Block Patron (01) request. SIP2 defines no
// response for this command.
func BuildBlockPatron(institution, patronBarcode string, cardRetained bool, message string, seq int) (string, error) {
	retained := "N"
	if cardRetained {
		retained = "Y"
	}
	body := "01" + retained + nowStamp() +
		field("AO", institution) +
		field("AA", patronBarcode) +
		field("AC", "") +
		field("AL", message)
	return AppendTrailer(body, seq)
}

// BuildItemStatusUpdate formats an Item Status Update (19) request.
// securityMarker must be one of '0'..'3'; zero value means '0'.
func BuildItemStatusUpdate(institution, itemBarcode string, securityMarker byte, seq int) (string, error) {
	if securityMarker == 0 {
		securityMarker = '0'
	}
	if securityMarker < '0' || securityMarker > '3' {
		return "", fmt.Errorf("sip2: invalid security marker %q", string(securityMarker))
	}
	body := "19" + string(securityMarker) + nowStamp() +
		field("AO", institution) +
		field("AB", itemBarcode)
	return AppendTrailer(body, seq)
}

// BuildPatronEnable formats a Patron Enable (25) request.
func BuildPatronEnable(institution, patronBarcode, patronPin string, seq int) (string, error) {
	body := "25" + nowStamp() +
		field("AO", institution) +
		field("AA", patronBarcode) +
		field("AC", "")
	if patronPin != "" {
		body += field("AD", patronPin)
	}
	return AppendTrailer(body, seq)
}

package sip2

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/spf13/cast"
)

// trailerRe matches the AY<digit>AZ<hex> pair at the end of a frame. Legacy
// systems sometimes truncate or lowercase the hex, so up to four hex digits
// of either case are accepted.
var trailerRe = regexp.MustCompile(`AY(\d)AZ[0-9A-Fa-f]{0,4}$`)

// rawMessage is a response frame split into its command code, first segment
// (fixed header plus any trailing variable field), and the remaining
// pipe-delimited segments. seq is -1 when the frame carries no trailer.
type rawMessage struct {
	code     string
	fixed    string
	segments []string
	seq      int
}

func splitFrame(frame string) rawMessage {
	frame = strings.TrimRight(frame, "\r\n")
	msg := rawMessage{seq: -1}
	if loc := trailerRe.FindStringSubmatchIndex(frame); loc != nil {
		msg.seq = int(frame[loc[2]] - '0')
		frame = frame[:loc[0]]
	}
	segs := strings.Split(frame, "|")
	msg.fixed = segs[0]
	for _, s := range segs[1:] {
		if s != "" {
			msg.segments = append(msg.segments, s)
		}
	}
	if len(msg.fixed) >= 2 {
		msg.code = msg.fixed[:2]
	}
	return msg
}

// at returns the byte at absolute offset i in the first segment, or a space
// when the frame is truncated.
func (m rawMessage) at(i int) byte {
	if i < len(m.fixed) {
		return m.fixed[i]
	}
	return ' '
}

func (m rawMessage) flag(i int) bool { return m.at(i) == 'Y' }

func (m rawMessage) ok(i int) bool { return m.at(i) == '1' }

func (m rawMessage) str(i, n int) string {
	if i >= len(m.fixed) {
		return ""
	}
	end := i + n
	if end > len(m.fixed) {
		end = len(m.fixed)
	}
	return m.fixed[i:end]
}

// num parses a fixed-width decimal field. Leading zeros are trimmed so cast
// never reads a zero-padded value as octal.
func (m rawMessage) num(i, n int) int {
	return cast.ToInt(strings.TrimLeft(strings.TrimSpace(m.str(i, n)), "0"))
}

func isUpperByte(c byte) bool { return c >= 'A' && c <= 'Z' }

type tagValue struct {
	tag   string
	value string
}

// fields discovers the variable fields. In the first segment a tag may start
// at or after the variant's fixed-header threshold; every later segment is
// tag-prefixed outright. The threshold scan is heuristic: a fixed-header
// field that happens to contain two adjacent uppercase letters past the
// threshold would be misread as a tag.
func (m rawMessage) fields(threshold int) []tagValue {
	var out []tagValue
	for i := threshold; i+1 < len(m.fixed); i++ {
		if isUpperByte(m.fixed[i]) && isUpperByte(m.fixed[i+1]) {
			out = append(out, tagValue{m.fixed[i : i+2], m.fixed[i+2:]})
			break
		}
	}
	for _, seg := range m.segments {
		if len(seg) >= 2 && isUpperByte(seg[0]) && isUpperByte(seg[1]) {
			out = append(out, tagValue{seg[:2], seg[2:]})
		}
	}
	return out
}

// repeatedTags are delivered to their handler on every occurrence; all other
// known tags take the first occurrence only. AF is handled separately and is
// always a list.
var repeatedTags = map[string]bool{
	"AT": true, "AU": true, "AV": true, "BU": true, "BJ": true, "BM": true, "BN": true,
}

type tagHandlers map[string]func(value string)

// applyTags routes variable fields: AF accumulates into the screen-message
// list, known tags invoke the variant's handler, and everything else lands in
// the extensions map. The trailer tags never reach extensions.
func applyTags(msg rawMessage, threshold int, handlers tagHandlers) (screens []string, ext map[string]string) {
	seen := make(map[string]bool)
	for _, fv := range msg.fields(threshold) {
		switch fv.tag {
		case "AF":
			screens = append(screens, fv.value)
		case "AY", "AZ":
		default:
			h, known := handlers[fv.tag]
			if !known {
				if ext == nil {
					ext = make(map[string]string)
				}
				if _, dup := ext[fv.tag]; !dup {
					ext[fv.tag] = fv.value
				}
				continue
			}
			if repeatedTags[fv.tag] || !seen[fv.tag] {
				h(fv.value)
				seen[fv.tag] = true
			}
		}
	}
	return screens, ext
}

func codeMismatch(got string, want ...string) error {
	return fmt.Errorf("%w: got %q, want %s", ErrUnexpectedResponseCode, got, strings.Join(want, " or "))
}

func toCount(v string) int { return cast.ToInt(strings.TrimLeft(strings.TrimSpace(v), "0")) }

// parsePatronFlags decodes the fourteen-byte patron status block.
func parsePatronFlags(s string) PatronFlags {
	at := func(i int) bool { return i < len(s) && s[i] == 'Y' }
	return PatronFlags{
		ChargePrivilegesDenied:       at(0),
		RenewalPrivilegesDenied:      at(1),
		RecallPrivilegesDenied:       at(2),
		HoldPrivilegesDenied:         at(3),
		CardReportedLost:             at(4),
		TooManyItemsCharged:          at(5),
		TooManyItemsOverdue:          at(6),
		TooManyRenewals:              at(7),
		TooManyClaimsOfItemsReturned: at(8),
		TooManyItemsLost:             at(9),
		ExcessiveOutstandingFines:    at(10),
		ExcessiveOutstandingFees:     at(11),
		RecallOverdue:                at(12),
		TooManyItemsBilled:           at(13),
	}
}

// ParsePatronStatus decodes a Patron Status (24) or Patron Enable (26)
// response.
func ParsePatronStatus(frame string) (*PatronStatusResponse, error) {
	msg := splitFrame(frame)
	if msg.code != "24" && msg.code != "26" {
		return nil, codeMismatch(msg.code, "24", "26")
	}
	r := &PatronStatusResponse{
		Flags:           parsePatronFlags(msg.str(2, 14)),
		Language:        msg.str(16, 3),
		TransactionDate: msg.str(19, 18),
		SequenceNumber:  msg.seq,
	}
	r.ScreenMessages, r.Extensions = applyTags(msg, 37, tagHandlers{
		"AO": func(v string) { r.Institution = v },
		"AA": func(v string) { r.PatronBarcode = v },
		"AE": func(v string) { r.PatronName = v },
		"BL": func(v string) { r.ValidPatron = v == "Y" },
		"BZ": func(v string) { r.HoldItemsCount = toCount(v) },
		"CA": func(v string) { r.OverdueItemsCount = toCount(v) },
		"CB": func(v string) { r.ChargedItemsCount = toCount(v) },
		"AU": func(v string) { r.ChargedItems = append(r.ChargedItems, v) },
		"AS": func(v string) { r.HoldItems = v },
		"CD": func(v string) { r.UnavailableHolds = v },
		"AG": func(v string) { r.PrintLine = v },
	})
	return r, nil
}

// ParseCheckout decodes a Checkout (12) or Renew (30) response.
func ParseCheckout(frame string) (*CheckoutResponse, error) {
	msg := splitFrame(frame)
	if msg.code != "12" && msg.code != "30" {
		return nil, codeMismatch(msg.code, "12", "30")
	}
	r := &CheckoutResponse{
		Ok:              msg.ok(2),
		RenewalOk:       msg.flag(3),
		Magnetic:        msg.flag(4),
		Desensitize:     msg.flag(5),
		TransactionDate: msg.str(6, 18),
		SequenceNumber:  msg.seq,
	}
	r.ScreenMessages, r.Extensions = applyTags(msg, 24, tagHandlers{
		"AO": func(v string) { r.Institution = v },
		"AA": func(v string) { r.PatronBarcode = v },
		"AB": func(v string) { r.ItemBarcode = v },
		"AJ": func(v string) { r.TitleID = v },
		"AH": func(v string) { r.DueDate = v },
		"BV": func(v string) { r.FeeAmount = v },
		"AG": func(v string) { r.PrintLine = v },
	})
	return r, nil
}

// ParseCheckin decodes a Checkin (10) response.
func ParseCheckin(frame string) (*CheckinResponse, error) {
	msg := splitFrame(frame)
	if msg.code != "10" {
		return nil, codeMismatch(msg.code, "10")
	}
	r := &CheckinResponse{
		Ok:              msg.ok(2),
		Resensitize:     msg.flag(3),
		Magnetic:        msg.flag(4),
		Alert:           msg.flag(5),
		TransactionDate: msg.str(6, 18),
		SequenceNumber:  msg.seq,
	}
	r.ScreenMessages, r.Extensions = applyTags(msg, 24, tagHandlers{
		"AO": func(v string) { r.Institution = v },
		"AB": func(v string) { r.ItemBarcode = v },
		"AJ": func(v string) { r.TitleID = v },
		"AQ": func(v string) { r.PermanentLocation = v },
		"AG": func(v string) { r.PrintLine = v },
	})
	return r, nil
}

// ParseItemInformation decodes an Item Information (18) response.
func ParseItemInformation(frame string) (*ItemInformationResponse, error) {
	msg := splitFrame(frame)
	if msg.code != "18" {
		return nil, codeMismatch(msg.code, "18")
	}
	r := &ItemInformationResponse{
		CirculationStatus: msg.num(2, 2),
		SecurityMarker:    msg.num(4, 2),
		FeeType:           msg.num(6, 2),
		TransactionDate:   msg.str(8, 18),
		SequenceNumber:    msg.seq,
	}
	r.ScreenMessages, r.Extensions = applyTags(msg, 26, tagHandlers{
		"AO": func(v string) { r.Institution = v },
		"AB": func(v string) { r.ItemBarcode = v },
		"AJ": func(v string) { r.TitleID = v },
		"BG": func(v string) { r.Owner = v },
		"BH": func(v string) { r.CurrencyType = v },
		"CK": func(v string) { r.MediaType = v },
	})
	return r, nil
}

// ParseFeePaid decodes a Fee Paid (38) response.
func ParseFeePaid(frame string) (*FeePaidResponse, error) {
	msg := splitFrame(frame)
	if msg.code != "38" {
		return nil, codeMismatch(msg.code, "38")
	}
	r := &FeePaidResponse{
		PaymentAccepted: msg.flag(2),
		TransactionDate: msg.str(3, 18),
		SequenceNumber:  msg.seq,
	}
	r.ScreenMessages, r.Extensions = applyTags(msg, 21, tagHandlers{
		"AO": func(v string) { r.Institution = v },
		"AA": func(v string) { r.PatronBarcode = v },
		"BK": func(v string) { r.TransactionID = v },
		"BH": func(v string) { r.CurrencyType = v },
	})
	return r, nil
}

// ParsePatronInformation decodes a Patron Information (64) response.
func ParsePatronInformation(frame string) (*PatronInformationResponse, error) {
	msg := splitFrame(frame)
	if msg.code != "64" {
		return nil, codeMismatch(msg.code, "64")
	}
	r := &PatronInformationResponse{
		Flags:                 parsePatronFlags(msg.str(2, 14)),
		Language:              msg.str(16, 3),
		TransactionDate:       msg.str(19, 18),
		HoldItemsCount:        msg.num(37, 4),
		OverdueItemsCount:     msg.num(41, 4),
		ChargedItemsCount:     msg.num(45, 4),
		FineItemsCount:        msg.num(49, 4),
		RecallItemsCount:      msg.num(53, 4),
		UnavailableHoldsCount: msg.num(57, 4),
		SequenceNumber:        msg.seq,
	}
	r.ScreenMessages, r.Extensions = applyTags(msg, 61, tagHandlers{
		"AO": func(v string) { r.Institution = v },
		"AA": func(v string) { r.PatronBarcode = v },
		"AE": func(v string) { r.PatronName = v },
		"BL": func(v string) { r.ValidPatron = v == "Y" },
		"BE": func(v string) { r.EmailAddress = v },
		"BF": func(v string) { r.HomePhone = v },
		"BD": func(v string) { r.HomeAddress = v },
		"AT": func(v string) { r.OverdueItems = append(r.OverdueItems, v) },
		"AU": func(v string) { r.ChargedItems = append(r.ChargedItems, v) },
		"AV": func(v string) { r.FineItems = append(r.FineItems, v) },
		"BU": func(v string) { r.RecallItems = append(r.RecallItems, v) },
		"BJ": func(v string) { r.UnavailableHoldItems = append(r.UnavailableHoldItems, v) },
		"BP": func(v string) { r.StartItem = v },
		"BQ": func(v string) { r.EndItem = v },
	})
	return r, nil
}

// ParseHold decodes a Hold (16) response.
func ParseHold(frame string) (*HoldResponse, error) {
	msg := splitFrame(frame)
	if msg.code != "16" {
		return nil, codeMismatch(msg.code, "16")
	}
	r := &HoldResponse{
		Ok:              msg.ok(2),
		Available:       msg.flag(3),
		TransactionDate: msg.str(4, 18),
		SequenceNumber:  msg.seq,
	}
	r.ScreenMessages, r.Extensions = applyTags(msg, 22, tagHandlers{
		"AO": func(v string) { r.Institution = v },
		"AA": func(v string) { r.PatronBarcode = v },
		"AB": func(v string) { r.ItemBarcode = v },
		"AJ": func(v string) { r.TitleID = v },
		"BW": func(v string) { r.ExpirationDate = v },
		"BS": func(v string) { r.PickupLocation = v },
		"MN": func(v string) { r.QueuePosition = v },
		"AG": func(v string) { r.PrintLine = v },
	})
	return r, nil
}

// ParseRenewAll decodes a Renew All (66) response.
func ParseRenewAll(frame string) (*RenewAllResponse, error) {
	msg := splitFrame(frame)
	if msg.code != "66" {
		return nil, codeMismatch(msg.code, "66")
	}
	r := &RenewAllResponse{
		Ok:              msg.ok(2),
		RenewedCount:    msg.num(3, 4),
		UnrenewedCount:  msg.num(7, 4),
		TransactionDate: msg.str(11, 18),
		SequenceNumber:  msg.seq,
	}
	r.ScreenMessages, r.Extensions = applyTags(msg, 29, tagHandlers{
		"AO": func(v string) { r.Institution = v },
		"AA": func(v string) { r.PatronBarcode = v },
		"BM": func(v string) { r.RenewedItems = append(r.RenewedItems, v) },
		"BN": func(v string) { r.UnrenewedItems = append(r.UnrenewedItems, v) },
	})
	return r, nil
}

// ParseEndSession decodes an End Session (36) response.
func ParseEndSession(frame string) (*EndSessionResponse, error) {
	msg := splitFrame(frame)
	if msg.code != "36" {
		return nil, codeMismatch(msg.code, "36")
	}
	r := &EndSessionResponse{
		EndSession:      msg.flag(2),
		TransactionDate: msg.str(3, 18),
		SequenceNumber:  msg.seq,
	}
	r.ScreenMessages, r.Extensions = applyTags(msg, 21, tagHandlers{
		"AO": func(v string) { r.Institution = v },
		"AA": func(v string) { r.PatronBarcode = v },
		"AG": func(v string) { r.PrintLine = v },
	})
	return r, nil
}

// ParseACSStatus decodes an ACS Status (98) response.
func ParseACSStatus(frame string) (*ACSStatusResponse, error) {
	msg := splitFrame(frame)
	if msg.code != "98" {
		return nil, codeMismatch(msg.code, "98")
	}
	r := &ACSStatusResponse{
		OnlineStatus:    msg.flag(2),
		CheckinOk:       msg.flag(3),
		CheckoutOk:      msg.flag(4),
		RenewalPolicy:   msg.flag(5),
		StatusUpdateOk:  msg.flag(6),
		OfflineOk:       msg.flag(7),
		TimeoutPeriod:   msg.num(8, 3),
		RetriesAllowed:  msg.num(11, 3),
		DateTimeSync:    msg.str(14, 18),
		ProtocolVersion: msg.str(32, 4),
		SequenceNumber:  msg.seq,
	}
	r.ScreenMessages, r.Extensions = applyTags(msg, 36, tagHandlers{
		"AO": func(v string) { r.Institution = v },
		"AM": func(v string) { r.LibraryName = v },
		"BX": func(v string) { r.SupportedMessages = v },
		"AN": func(v string) { r.TerminalLocation = v },
	})
	return r, nil
}

// ParseItemStatusUpdate decodes an Item Status Update (20) response.
func ParseItemStatusUpdate(frame string) (*ItemStatusUpdateResponse, error) {
	msg := splitFrame(frame)
	if msg.code != "20" {
		return nil, codeMismatch(msg.code, "20")
	}
	r := &ItemStatusUpdateResponse{
		ItemPropertiesOk: msg.ok(2),
		TransactionDate:  msg.str(3, 18),
		SequenceNumber:   msg.seq,
	}
	r.ScreenMessages, r.Extensions = applyTags(msg, 21, tagHandlers{
		"AO": func(v string) { r.Institution = v },
		"AB": func(v string) { r.ItemBarcode = v },
		"AJ": func(v string) { r.TitleID = v },
		"AG": func(v string) { r.PrintLine = v },
	})
	return r, nil
}

// ParseLogin decodes a Login (94) response. Ok is true only for "941".
func ParseLogin(frame string) (*LoginResponse, error) {
	msg := splitFrame(frame)
	if msg.code != "94" {
		return nil, codeMismatch(msg.code, "94")
	}
	r := &LoginResponse{
		Ok:             msg.ok(2),
		SequenceNumber: msg.seq,
	}
	_, r.Extensions = applyTags(msg, 3, tagHandlers{})
	return r, nil
}

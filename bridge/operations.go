package bridge

import (
	"github.com/libbridge/sip2go/sip2"
)

// One gateway operation per supported SIP2 command, addressed by branch id.
// Every call is serialized on the branch's FIFO queue. The map handed to
// execute becomes the "request" half of the transaction event; its keys are
// the canonical identifier names the masking rules key on.

func summaryByName(name string) sip2.PatronSummary {
	switch name {
	case "holds":
		return sip2.PatronSummary{Holds: true}
	case "overdue":
		return sip2.PatronSummary{Overdue: true}
	case "charged":
		return sip2.PatronSummary{Charged: true}
	case "fines":
		return sip2.PatronSummary{Fines: true}
	case "recall":
		return sip2.PatronSummary{Recall: true}
	default:
		return sip2.PatronSummary{}
	}
}

func (m *Manager) PatronStatus(branchID string, req PatronStatusRequest) (*sip2.PatronStatusResponse, error) {
	ev := map[string]interface{}{"patronBarcode": req.Barcode, "language": req.Language}
	v, err := m.execute(branchID, "patronStatus", ev, func(c *sip2.Client) (interface{}, error) {
		return c.PatronStatus(req.Barcode, req.Language)
	})
	if err != nil {
		return nil, err
	}
	return v.(*sip2.PatronStatusResponse), nil
}

func (m *Manager) Checkout(branchID string, req CheckoutRequest) (*sip2.CheckoutResponse, error) {
	ev := map[string]interface{}{
		"patronBarcode": req.PatronBarcode,
		"itemBarcode":   req.ItemBarcode,
		"patronPin":     req.PatronPin,
	}
	v, err := m.execute(branchID, "checkout", ev, func(c *sip2.Client) (interface{}, error) {
		return c.Checkout(req.PatronBarcode, req.ItemBarcode, req.PatronPin)
	})
	if err != nil {
		return nil, err
	}
	return v.(*sip2.CheckoutResponse), nil
}

func (m *Manager) Checkin(branchID string, req CheckinRequest) (*sip2.CheckinResponse, error) {
	ev := map[string]interface{}{"itemBarcode": req.ItemBarcode}
	v, err := m.execute(branchID, "checkin", ev, func(c *sip2.Client) (interface{}, error) {
		return c.Checkin(req.ItemBarcode)
	})
	if err != nil {
		return nil, err
	}
	return v.(*sip2.CheckinResponse), nil
}

func (m *Manager) ItemInformation(branchID string, req ItemInformationRequest) (*sip2.ItemInformationResponse, error) {
	ev := map[string]interface{}{"itemBarcode": req.ItemBarcode}
	v, err := m.execute(branchID, "itemInformation", ev, func(c *sip2.Client) (interface{}, error) {
		return c.ItemInformation(req.ItemBarcode)
	})
	if err != nil {
		return nil, err
	}
	return v.(*sip2.ItemInformationResponse), nil
}

func (m *Manager) Renew(branchID string, req RenewRequest) (*sip2.CheckoutResponse, error) {
	ev := map[string]interface{}{
		"patronBarcode": req.PatronBarcode,
		"itemBarcode":   req.ItemBarcode,
		"patronPin":     req.PatronPin,
	}
	v, err := m.execute(branchID, "renew", ev, func(c *sip2.Client) (interface{}, error) {
		return c.Renew(req.PatronBarcode, req.ItemBarcode, req.PatronPin)
	})
	if err != nil {
		return nil, err
	}
	return v.(*sip2.CheckoutResponse), nil
}

func (m *Manager) FeePaid(branchID string, req FeePaidRequest) (*sip2.FeePaidResponse, error) {
	ev := map[string]interface{}{
		"patronBarcode": req.PatronBarcode,
		"feeId":         req.FeeID,
		"amount":        req.Amount,
		"feeType":       req.FeeType,
		"paymentType":   req.PaymentType,
		"currency":      req.Currency,
	}
	v, err := m.execute(branchID, "feePaid", ev, func(c *sip2.Client) (interface{}, error) {
		return c.FeePaid(req.PatronBarcode, req.FeeID, req.Amount, req.FeeType, req.PaymentType, req.Currency)
	})
	if err != nil {
		return nil, err
	}
	return v.(*sip2.FeePaidResponse), nil
}

func (m *Manager) PatronInformation(branchID string, req PatronInformationRequest) (*sip2.PatronInformationResponse, error) {
	ev := map[string]interface{}{
		"patronBarcode": req.PatronBarcode,
		"summary":       req.Summary,
		"startItem":     req.StartItem,
		"endItem":       req.EndItem,
		"language":      req.Language,
	}
	v, err := m.execute(branchID, "patronInformation", ev, func(c *sip2.Client) (interface{}, error) {
		return c.PatronInformation(req.PatronBarcode, req.Language, summaryByName(req.Summary), req.StartItem, req.EndItem)
	})
	if err != nil {
		return nil, err
	}
	return v.(*sip2.PatronInformationResponse), nil
}

func (m *Manager) Hold(branchID string, req HoldRequest) (*sip2.HoldResponse, error) {
	mode := byte(sip2.HoldModeAdd)
	if req.HoldMode != "" {
		mode = req.HoldMode[0]
	}
	ev := map[string]interface{}{
		"patronBarcode":  req.PatronBarcode,
		"holdMode":       req.HoldMode,
		"itemBarcode":    req.ItemBarcode,
		"expiryDate":     req.ExpiryDate,
		"pickupLocation": req.PickupLocation,
		"titleId":        req.TitleID,
	}
	v, err := m.execute(branchID, "hold", ev, func(c *sip2.Client) (interface{}, error) {
		return c.Hold(req.PatronBarcode, mode, req.ItemBarcode, req.ExpiryDate, req.PickupLocation, req.TitleID)
	})
	if err != nil {
		return nil, err
	}
	return v.(*sip2.HoldResponse), nil
}

func (m *Manager) RenewAll(branchID string, req RenewAllRequest) (*sip2.RenewAllResponse, error) {
	ev := map[string]interface{}{"patronBarcode": req.PatronBarcode}
	v, err := m.execute(branchID, "renewAll", ev, func(c *sip2.Client) (interface{}, error) {
		return c.RenewAll(req.PatronBarcode)
	})
	if err != nil {
		return nil, err
	}
	return v.(*sip2.RenewAllResponse), nil
}

func (m *Manager) EndSession(branchID string, req EndSessionRequest) (*sip2.EndSessionResponse, error) {
	ev := map[string]interface{}{"patronBarcode": req.PatronBarcode}
	v, err := m.execute(branchID, "endSession", ev, func(c *sip2.Client) (interface{}, error) {
		return c.EndSession(req.PatronBarcode)
	})
	if err != nil {
		return nil, err
	}
	return v.(*sip2.EndSessionResponse), nil
}

func (m *Manager) SCStatus(branchID string) (*sip2.ACSStatusResponse, error) {
	v, err := m.execute(branchID, "scStatus", nil, func(c *sip2.Client) (interface{}, error) {
		return c.SCStatus()
	})
	if err != nil {
		return nil, err
	}
	return v.(*sip2.ACSStatusResponse), nil
}

// BlockPatron is fire-and-forget: SIP2 defines no response for command 01, so
// the call returns once the frame is written.
func (m *Manager) BlockPatron(branchID string, req BlockPatronRequest) error {
	ev := map[string]interface{}{
		"patronBarcode": req.PatronBarcode,
		"cardRetained":  req.CardRetained,
		"message":       req.Message,
	}
	_, err := m.execute(branchID, "blockPatron", ev, func(c *sip2.Client) (interface{}, error) {
		return nil, c.BlockPatron(req.PatronBarcode, req.CardRetained, req.Message)
	})
	return err
}

func (m *Manager) ItemStatusUpdate(branchID string, req ItemStatusUpdateRequest) (*sip2.ItemStatusUpdateResponse, error) {
	marker := byte('0')
	if req.SecurityMarker != "" {
		marker = req.SecurityMarker[0]
	}
	ev := map[string]interface{}{
		"itemBarcode":    req.ItemBarcode,
		"securityMarker": req.SecurityMarker,
	}
	v, err := m.execute(branchID, "itemStatusUpdate", ev, func(c *sip2.Client) (interface{}, error) {
		return c.ItemStatusUpdate(req.ItemBarcode, marker)
	})
	if err != nil {
		return nil, err
	}
	return v.(*sip2.ItemStatusUpdateResponse), nil
}

func (m *Manager) PatronEnable(branchID string, req PatronEnableRequest) (*sip2.PatronStatusResponse, error) {
	ev := map[string]interface{}{
		"patronBarcode": req.PatronBarcode,
		"patronPin":     req.PatronPin,
	}
	v, err := m.execute(branchID, "patronEnable", ev, func(c *sip2.Client) (interface{}, error) {
		return c.PatronEnable(req.PatronBarcode, req.PatronPin)
	})
	if err != nil {
		return nil, err
	}
	return v.(*sip2.PatronStatusResponse), nil
}

package bridge

// Request payloads for the gateway operations. The same structs are decoded
// from HTTP JSON bodies and validated with go-playground/validator before
// they reach the manager.

type PatronStatusRequest struct {
	Barcode  string `json:"barcode" validate:"required"`
	Language string `json:"language,omitempty"`
}

type CheckoutRequest struct {
	PatronBarcode string `json:"patronBarcode" validate:"required"`
	ItemBarcode   string `json:"itemBarcode" validate:"required"`
	PatronPin     string `json:"patronPin,omitempty"`
}

type CheckinRequest struct {
	ItemBarcode string `json:"itemBarcode" validate:"required"`
}

type ItemInformationRequest struct {
	ItemBarcode string `json:"itemBarcode" validate:"required"`
}

type RenewRequest struct {
	PatronBarcode string `json:"patronBarcode" validate:"required"`
	ItemBarcode   string `json:"itemBarcode" validate:"required"`
	PatronPin     string `json:"patronPin,omitempty"`
}

type FeePaidRequest struct {
	PatronBarcode string `json:"patronBarcode" validate:"required"`
	FeeID         string `json:"feeId" validate:"required"`
	Amount        string `json:"amount" validate:"required"`
	FeeType       string `json:"feeType,omitempty"`
	PaymentType   string `json:"paymentType,omitempty"`
	Currency      string `json:"currency,omitempty" validate:"omitempty,len=3"`
}

type PatronInformationRequest struct {
	PatronBarcode string `json:"patronBarcode" validate:"required"`
	// Summary selects one detail list: holds, overdue, charged, fines, recall.
	Summary   string `json:"summary,omitempty" validate:"omitempty,oneof=holds overdue charged fines recall"`
	StartItem int    `json:"startItem,omitempty" validate:"omitempty,min=1"`
	EndItem   int    `json:"endItem,omitempty" validate:"omitempty,min=1"`
	Language  string `json:"language,omitempty"`
}

type HoldRequest struct {
	PatronBarcode  string `json:"patronBarcode" validate:"required"`
	HoldMode       string `json:"holdMode" validate:"required,oneof=+ - *"`
	ItemBarcode    string `json:"itemBarcode,omitempty"`
	ExpiryDate     string `json:"expiryDate,omitempty"`
	PickupLocation string `json:"pickupLocation,omitempty"`
	TitleID        string `json:"titleId,omitempty"`
}

type RenewAllRequest struct {
	PatronBarcode string `json:"patronBarcode" validate:"required"`
}

type EndSessionRequest struct {
	PatronBarcode string `json:"patronBarcode" validate:"required"`
}

type BlockPatronRequest struct {
	PatronBarcode string `json:"patronBarcode" validate:"required"`
	CardRetained  bool   `json:"cardRetained,omitempty"`
	Message       string `json:"message,omitempty"`
}

type ItemStatusUpdateRequest struct {
	ItemBarcode    string `json:"itemBarcode" validate:"required"`
	SecurityMarker string `json:"securityMarker,omitempty" validate:"omitempty,oneof=0 1 2 3"`
}

type PatronEnableRequest struct {
	PatronBarcode string `json:"patronBarcode" validate:"required"`
	PatronPin     string `json:"patronPin,omitempty"`
}

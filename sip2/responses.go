package sip2

// PatronFlags holds the fourteen fixed-position patron status flags shared by
// the Patron Status (24), Patron Enable (26), and Patron Information (64)
// responses. Each is Y at its position when the restriction applies.
type PatronFlags struct {
	ChargePrivilegesDenied       bool `json:"chargePrivilegesDenied"`
	RenewalPrivilegesDenied      bool `json:"renewalPrivilegesDenied"`
	RecallPrivilegesDenied       bool `json:"recallPrivilegesDenied"`
	HoldPrivilegesDenied         bool `json:"holdPrivilegesDenied"`
	CardReportedLost             bool `json:"cardReportedLost"`
	TooManyItemsCharged          bool `json:"tooManyItemsCharged"`
	TooManyItemsOverdue          bool `json:"tooManyItemsOverdue"`
	TooManyRenewals              bool `json:"tooManyRenewals"`
	TooManyClaimsOfItemsReturned bool `json:"tooManyClaimsOfItemsReturned"`
	TooManyItemsLost             bool `json:"tooManyItemsLost"`
	ExcessiveOutstandingFines    bool `json:"excessiveOutstandingFines"`
	ExcessiveOutstandingFees     bool `json:"excessiveOutstandingFees"`
	RecallOverdue                bool `json:"recallOverdue"`
	TooManyItemsBilled           bool `json:"tooManyItemsBilled"`
}

// PatronStatusResponse is the parsed form of a Patron Status (24) or Patron
// Enable (26) response.
type PatronStatusResponse struct {
	Flags             PatronFlags       `json:"flags"`
	Language          string            `json:"language"`
	TransactionDate   string            `json:"transactionDate"`
	Institution       string            `json:"institutionId"`
	PatronBarcode     string            `json:"patronBarcode"`
	PatronName        string            `json:"patronName"`
	ValidPatron       bool              `json:"validPatron"`
	HoldItemsCount    int               `json:"holdItemsCount"`
	OverdueItemsCount int               `json:"overdueItemsCount"`
	ChargedItemsCount int               `json:"chargedItemsCount"`
	ChargedItems      []string          `json:"chargedItems,omitempty"`
	HoldItems         string            `json:"holdItems,omitempty"`
	UnavailableHolds  string            `json:"unavailableHolds,omitempty"`
	ScreenMessages    []string          `json:"screenMessages,omitempty"`
	PrintLine         string            `json:"printLine,omitempty"`
	SequenceNumber    int               `json:"-"`
	Extensions        map[string]string `json:"extensions,omitempty"`
}

// CheckoutResponse is the parsed form of a Checkout (12) or Renew (30)
// response; the two share one layout.
type CheckoutResponse struct {
	Ok              bool              `json:"ok"`
	RenewalOk       bool              `json:"renewalOk"`
	Magnetic        bool              `json:"magneticMedia"`
	Desensitize     bool              `json:"desensitize"`
	TransactionDate string            `json:"transactionDate"`
	Institution     string            `json:"institutionId"`
	PatronBarcode   string            `json:"patronBarcode"`
	ItemBarcode     string            `json:"itemBarcode"`
	TitleID         string            `json:"titleId"`
	DueDate         string            `json:"dueDate"`
	FeeAmount       string            `json:"feeAmount,omitempty"`
	ScreenMessages  []string          `json:"screenMessages,omitempty"`
	PrintLine       string            `json:"printLine,omitempty"`
	SequenceNumber  int               `json:"-"`
	Extensions      map[string]string `json:"extensions,omitempty"`
}

// ScreenMessage returns the first screen message, or empty.
func (r *CheckoutResponse) ScreenMessage() string {
	if len(r.ScreenMessages) == 0 {
		return ""
	}
	return r.ScreenMessages[0]
}

// CheckinResponse is the parsed form of a Checkin (10) response.
type CheckinResponse struct {
	Ok                bool              `json:"ok"`
	Resensitize       bool              `json:"resensitize"`
	Magnetic          bool              `json:"magneticMedia"`
	Alert             bool              `json:"alert"`
	TransactionDate   string            `json:"transactionDate"`
	Institution       string            `json:"institutionId"`
	ItemBarcode       string            `json:"itemBarcode"`
	TitleID           string            `json:"titleId"`
	PermanentLocation string            `json:"permanentLocation"`
	ScreenMessages    []string          `json:"screenMessages,omitempty"`
	PrintLine         string            `json:"printLine,omitempty"`
	SequenceNumber    int               `json:"-"`
	Extensions        map[string]string `json:"extensions,omitempty"`
}

// ItemInformationResponse is the parsed form of an Item Information (18)
// response.
type ItemInformationResponse struct {
	CirculationStatus int               `json:"circulationStatus"`
	SecurityMarker    int               `json:"securityMarker"`
	FeeType           int               `json:"feeType"`
	TransactionDate   string            `json:"transactionDate"`
	Institution       string            `json:"institutionId"`
	ItemBarcode       string            `json:"itemBarcode"`
	TitleID           string            `json:"titleId"`
	Owner             string            `json:"owner,omitempty"`
	CurrencyType      string            `json:"currencyType,omitempty"`
	MediaType         string            `json:"mediaType,omitempty"`
	ScreenMessages    []string          `json:"screenMessages,omitempty"`
	SequenceNumber    int               `json:"-"`
	Extensions        map[string]string `json:"extensions,omitempty"`
}

// FeePaidResponse is the parsed form of a Fee Paid (38) response.
type FeePaidResponse struct {
	PaymentAccepted bool              `json:"paymentAccepted"`
	TransactionDate string            `json:"transactionDate"`
	Institution     string            `json:"institutionId"`
	PatronBarcode   string            `json:"patronBarcode"`
	TransactionID   string            `json:"transactionId,omitempty"`
	CurrencyType    string            `json:"currencyType,omitempty"`
	ScreenMessages  []string          `json:"screenMessages,omitempty"`
	SequenceNumber  int               `json:"-"`
	Extensions      map[string]string `json:"extensions,omitempty"`
}

// PatronInformationResponse is the parsed form of a Patron Information (64)
// response.
type PatronInformationResponse struct {
	Flags                 PatronFlags       `json:"flags"`
	Language              string            `json:"language"`
	TransactionDate       string            `json:"transactionDate"`
	HoldItemsCount        int               `json:"holdItemsCount"`
	OverdueItemsCount     int               `json:"overdueItemsCount"`
	ChargedItemsCount     int               `json:"chargedItemsCount"`
	FineItemsCount        int               `json:"fineItemsCount"`
	RecallItemsCount      int               `json:"recallItemsCount"`
	UnavailableHoldsCount int               `json:"unavailableHoldsCount"`
	Institution           string            `json:"institutionId"`
	PatronBarcode         string            `json:"patronBarcode"`
	PatronName            string            `json:"patronName"`
	ValidPatron           bool              `json:"validPatron"`
	EmailAddress          string            `json:"emailAddress,omitempty"`
	HomePhone             string            `json:"homePhone,omitempty"`
	HomeAddress           string            `json:"homeAddress,omitempty"`
	OverdueItems          []string          `json:"overdueItems,omitempty"`
	ChargedItems          []string          `json:"chargedItems,omitempty"`
	FineItems             []string          `json:"fineItems,omitempty"`
	RecallItems           []string          `json:"recallItems,omitempty"`
	UnavailableHoldItems  []string          `json:"unavailableHoldItems,omitempty"`
	StartItem             string            `json:"startItem,omitempty"`
	EndItem               string            `json:"endItem,omitempty"`
	ScreenMessages        []string          `json:"screenMessages,omitempty"`
	SequenceNumber        int               `json:"-"`
	Extensions            map[string]string `json:"extensions,omitempty"`
}

// HoldResponse is the parsed form of a Hold (16) response.
type HoldResponse struct {
	Ok              bool   `json:"ok"`
	Available       bool   `json:"available"`
	TransactionDate string `json:"transactionDate"`
	ExpirationDate  string `json:"expirationDate,omitempty"`
	PickupLocation  string `json:"pickupLocation,omitempty"`
	// QueuePosition carries the vendor tag MN some systems use for the
	// patron's place in the hold queue.
	QueuePosition  string            `json:"queuePosition,omitempty"`
	Institution    string            `json:"institutionId"`
	PatronBarcode  string            `json:"patronBarcode"`
	ItemBarcode    string            `json:"itemBarcode,omitempty"`
	TitleID        string            `json:"titleId,omitempty"`
	ScreenMessages []string          `json:"screenMessages,omitempty"`
	PrintLine      string            `json:"printLine,omitempty"`
	SequenceNumber int               `json:"-"`
	Extensions     map[string]string `json:"extensions,omitempty"`
}

// RenewAllResponse is the parsed form of a Renew All (66) response.
type RenewAllResponse struct {
	Ok              bool              `json:"ok"`
	RenewedCount    int               `json:"renewedCount"`
	UnrenewedCount  int               `json:"unrenewedCount"`
	TransactionDate string            `json:"transactionDate"`
	Institution     string            `json:"institutionId"`
	PatronBarcode   string            `json:"patronBarcode"`
	RenewedItems    []string          `json:"renewedItems,omitempty"`
	UnrenewedItems  []string          `json:"unrenewedItems,omitempty"`
	ScreenMessages  []string          `json:"screenMessages,omitempty"`
	SequenceNumber  int               `json:"-"`
	Extensions      map[string]string `json:"extensions,omitempty"`
}

// EndSessionResponse is the parsed form of an End Session (36) response.
type EndSessionResponse struct {
	EndSession      bool              `json:"endSession"`
	TransactionDate string            `json:"transactionDate"`
	Institution     string            `json:"institutionId"`
	PatronBarcode   string            `json:"patronBarcode"`
	ScreenMessages  []string          `json:"screenMessages,omitempty"`
	PrintLine       string            `json:"printLine,omitempty"`
	SequenceNumber  int               `json:"-"`
	Extensions      map[string]string `json:"extensions,omitempty"`
}

// ACSStatusResponse is the parsed form of an ACS Status (98) response.
type ACSStatusResponse struct {
	OnlineStatus      bool              `json:"onlineStatus"`
	CheckinOk         bool              `json:"checkinOk"`
	CheckoutOk        bool              `json:"checkoutOk"`
	RenewalPolicy     bool              `json:"acsRenewalPolicy"`
	StatusUpdateOk    bool              `json:"statusUpdateOk"`
	OfflineOk         bool              `json:"offlineOk"`
	TimeoutPeriod     int               `json:"timeoutPeriod"`
	RetriesAllowed    int               `json:"retriesAllowed"`
	DateTimeSync      string            `json:"dateTimeSync"`
	ProtocolVersion   string            `json:"protocolVersion"`
	Institution       string            `json:"institutionId"`
	LibraryName       string            `json:"libraryName,omitempty"`
	SupportedMessages string            `json:"supportedMessages,omitempty"`
	TerminalLocation  string            `json:"terminalLocation,omitempty"`
	ScreenMessages    []string          `json:"screenMessages,omitempty"`
	SequenceNumber    int               `json:"-"`
	Extensions        map[string]string `json:"extensions,omitempty"`
}

// ItemStatusUpdateResponse is the parsed form of an Item Status Update (20)
// response.
type ItemStatusUpdateResponse struct {
	ItemPropertiesOk bool              `json:"itemPropertiesOk"`
	TransactionDate  string            `json:"transactionDate"`
	Institution      string            `json:"institutionId"`
	ItemBarcode      string            `json:"itemBarcode"`
	TitleID          string            `json:"titleId,omitempty"`
	ScreenMessages   []string          `json:"screenMessages,omitempty"`
	PrintLine        string            `json:"printLine,omitempty"`
	SequenceNumber   int               `json:"-"`
	Extensions       map[string]string `json:"extensions,omitempty"`
}

// LoginResponse is the parsed form of a Login (94) response.
type LoginResponse struct {
	Ok             bool              `json:"ok"`
	SequenceNumber int               `json:"-"`
	Extensions     map[string]string `json:"extensions,omitempty"`
}

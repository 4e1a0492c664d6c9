package fortnox

// MetaInformation is Fortnox's paging envelope.
type MetaInformation struct {
	TotalResources int `json:"@TotalResources"`
	TotalPages     int `json:"@TotalPages"`
	CurrentPage    int `json:"@CurrentPage"`
}

// Customer is the subset of a Fortnox customer that is mirrored locally.
// Fields absent from the payload stay empty.
type Customer struct {
	CustomerNumber     string `json:"CustomerNumber"`
	Name               string `json:"Name"`
	Email              string `json:"Email"`
	Phone              string `json:"Phone"`
	Phone1             string `json:"Phone1"`
	OrganisationNumber string `json:"OrganisationNumber"`
	Address1           string `json:"Address1"`
	ZipCode            string `json:"ZipCode"`
	City               string `json:"City"`
	Country            string `json:"Country"`
	CountryCode        string `json:"CountryCode"`
	Active             *bool  `json:"Active,omitempty"`
}

// PhoneNumber returns the first phone field set.
func (c Customer) PhoneNumber() string {
	if c.Phone != "" {
		return c.Phone
	}
	return c.Phone1
}

// CountryName prefers the full country over the code.
func (c Customer) CountryName() string {
	if c.Country != "" {
		return c.Country
	}
	return c.CountryCode
}

type customerList struct {
	MetaInformation MetaInformation `json:"MetaInformation"`
	Customers       []Customer      `json:"Customers"`
}

type customerDetail struct {
	Customer Customer `json:"Customer"`
}

// Invoice is the subset of a Fortnox invoice that is mirrored locally.
type Invoice struct {
	DocumentNumber string  `json:"DocumentNumber"`
	CustomerNumber string  `json:"CustomerNumber"`
	CustomerName   string  `json:"CustomerName"`
	InvoiceDate    string  `json:"InvoiceDate"`
	DueDate        string  `json:"DueDate"`
	Total          float64 `json:"Total"`
	Balance        float64 `json:"Balance"`
	Currency       string  `json:"Currency"`
	Cancelled      bool    `json:"Cancelled"`
	Sent           bool    `json:"Sent"`
}

type invoiceList struct {
	MetaInformation MetaInformation `json:"MetaInformation"`
	Invoices        []Invoice       `json:"Invoices"`
}

package checkout

import (
	"fmt"
	"strings"
)

// ShippingAddress carries the buyer-entered shipping form. Apartment is
// the only optional field.
type ShippingAddress struct {
	CustomerName string `json:"customer_name"`
	HouseNumber  string `json:"house_number"`
	Street       string `json:"street"`
	Apartment    string `json:"apartment"`
	City         string `json:"city"`
	Province     string `json:"province"`
	Country      string `json:"country"`
	PostalCode   string `json:"postal_code"`
}

func (a *ShippingAddress) normalize() {
	a.CustomerName = strings.TrimSpace(a.CustomerName)
	a.HouseNumber = strings.TrimSpace(a.HouseNumber)
	a.Street = strings.TrimSpace(a.Street)
	a.Apartment = strings.TrimSpace(a.Apartment)
	a.City = strings.TrimSpace(a.City)
	a.Province = strings.TrimSpace(a.Province)
	a.Country = strings.TrimSpace(a.Country)
	a.PostalCode = strings.TrimSpace(a.PostalCode)
}

func (a *ShippingAddress) validate() error {
	a.normalize()
	required := []struct{ field, value string }{
		{"customer_name", a.CustomerName},
		{"house_number", a.HouseNumber},
		{"street", a.Street},
		{"city", a.City},
		{"province", a.Province},
		{"country", a.Country},
		{"postal_code", a.PostalCode},
	}
	for _, rq := range required {
		if rq.value == "" {
			return &ValidationError{Msg: "missing shipping field: " + rq.field}
		}
	}
	return nil
}

// Text renders the address block stored on the order.
func (a *ShippingAddress) Text() string {
	line := fmt.Sprintf("%s %s", a.HouseNumber, a.Street)
	if a.Apartment != "" {
		line = fmt.Sprintf("%s, Apt %s", line, a.Apartment)
	}
	return strings.Join([]string{
		line,
		fmt.Sprintf("%s, %s", a.City, a.Province),
		fmt.Sprintf("%s, %s", a.Country, a.PostalCode),
	}, "\n")
}

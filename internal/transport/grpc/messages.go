package grpc

// Wire messages for reserva.v1.BookingService. Timestamps are RFC 3339
// strings; dates are YYYY-MM-DD and times of day HH:MM in the tenant timezone.

type GetAvailabilityRequest struct {
	TenantID       string `json:"tenant_id"`
	ServiceID      string `json:"service_id"`
	ProfessionalID string `json:"professional_id,omitempty"`
	// From defaults to now.
	From string `json:"from,omitempty"`
}

type GetAvailabilityResponse struct {
	Service       ServiceInfo        `json:"service"`
	Professionals []ProfessionalInfo `json:"professionals"`
	Timezone      string             `json:"timezone"`
	Days          []DayAvailability  `json:"days"`
}

type ServiceInfo struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	DurationMinutes int    `json:"duration_minutes"`
	PriceCents      int64  `json:"price_cents"`
}

type ProfessionalInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type DayAvailability struct {
	Date          string              `json:"date"`
	Professionals []ProfessionalSlots `json:"professionals"`
}

type ProfessionalSlots struct {
	ProfessionalID string   `json:"professional_id"`
	Times          []string `json:"times"`
}

type CreateBookingRequest struct {
	TenantID       string        `json:"tenant_id"`
	ServiceID      string        `json:"service_id"`
	ProfessionalID string        `json:"professional_id,omitempty"`
	StartTime      string        `json:"start_time"`
	Customer       CustomerInput `json:"customer"`
	Payment        PaymentInput  `json:"payment"`
}

type CustomerInput struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
}

type PaymentInput struct {
	Method string `json:"method,omitempty"`
	Token  string `json:"token,omitempty"`
}

type CreateBookingResponse struct {
	Booking Booking `json:"booking"`
}

type CancelBookingRequest struct {
	TenantID  string `json:"tenant_id"`
	BookingID string `json:"booking_id"`
}

type CancelBookingResponse struct {
	Booking Booking `json:"booking"`
}

type GetBookingRequest struct {
	TenantID  string `json:"tenant_id"`
	BookingID string `json:"booking_id"`
}

type GetBookingResponse struct {
	Booking Booking `json:"booking"`
}

type Booking struct {
	ID               string `json:"id"`
	TenantID         string `json:"tenant_id"`
	ProfessionalID   string `json:"professional_id"`
	ServiceID        string `json:"service_id"`
	CustomerID       string `json:"customer_id"`
	CustomerName     string `json:"customer_name"`
	StartTime        string `json:"start_time"`
	EndTime          string `json:"end_time"`
	Status           string `json:"status"`
	AmountCents      int64  `json:"amount_cents"`
	PaymentReceiptID string `json:"payment_receipt_id,omitempty"`
	PackageSessionID string `json:"package_session_id,omitempty"`
	CancelledAt      string `json:"cancelled_at,omitempty"`
}

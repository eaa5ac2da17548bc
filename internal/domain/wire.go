package domain

// Request and response bodies of the criteria service.

type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type TokenResponse struct {
	Token string `json:"token"`
}

type UpdateCriterionRequest struct {
	HID   int64   `json:"hid"`
	ID    int64   `json:"id"`
	Value float64 `json:"value"`
}

type CreateHouseRequest struct {
	Name    string `json:"name"`
	Address string `json:"address"`
}

type HousesResponse struct {
	Houses []HouseSummary `json:"houses"`
}

type CriteriaResponse struct {
	HID      int64       `json:"hid"`
	Criteria []Criterion `json:"criteria"`
}

type DreamHouseResponse struct {
	Criteria []Criterion `json:"criteria"`
}

type AddCriterionRequest struct {
	HID       int64     `json:"hid"`
	Criterion Criterion `json:"criterion"`
}

type RemoveCriterionRequest struct {
	HID int64 `json:"hid"`
	ID  int64 `json:"id"`
}

package model

type CreateBookRequest struct {
	Title         string `json:"title" validate:"required"`
	Author        string `json:"author" validate:"required"`
	ISBN          string `json:"isbn" validate:"required"`
	Category      string `json:"category"`
	PublishedDate string `json:"publishedDate"`
	Description   string `json:"description"`
	CoverImageURL string `json:"coverImageUrl" validate:"omitempty,url"`
	Copies        int    `json:"copies" validate:"omitempty,gte=1"`
	Location      string `json:"location"`
}

type IssueRequest struct {
	BorrowerID   string `json:"borrowerId"`
	BorrowerName string `json:"borrowerName"`
}

// BookPatch carries an admin edit. Nil fields are left untouched.
type BookPatch struct {
	Title         *string `json:"title"`
	Author        *string `json:"author"`
	ISBN          *string `json:"isbn"`
	Category      *string `json:"category"`
	PublishedDate *string `json:"publishedDate"`
	Description   *string `json:"description"`
	CoverImageURL *string `json:"coverImageUrl"`
	Copies        *int    `json:"copies"`
	Location      *string `json:"location"`
	Status        *Status `json:"status"`
}

type FineRequest struct {
	UserID   string  `json:"userId" validate:"required"`
	UserName string  `json:"userName"`
	Amount   float64 `json:"amount" validate:"required,gt=0"`
	Notes    string  `json:"notes"`
}

type BookFilter struct {
	Query    string
	Category string
	Status   Status
}

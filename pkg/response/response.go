// Package response renders the JSON envelope every API route returns:
// {success, message?, data?, pagination?, errors?}.
package response

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/medqueue/medqueue/pkg/pagination"
)

// FieldError describes one rejected request field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Envelope is the body shape of every response.
type Envelope struct {
	Success    bool             `json:"success"`
	Message    string           `json:"message,omitempty"`
	Data       interface{}      `json:"data,omitempty"`
	Pagination *pagination.Meta `json:"pagination,omitempty"`
	Errors     []FieldError     `json:"errors,omitempty"`
}

// OK writes a 200 envelope carrying data.
func OK(c echo.Context, data interface{}) error {
	return c.JSON(http.StatusOK, Envelope{Success: true, Data: data})
}

// Created writes a 201 envelope carrying data and a message.
func Created(c echo.Context, message string, data interface{}) error {
	return c.JSON(http.StatusCreated, Envelope{Success: true, Message: message, Data: data})
}

// Message writes a 200 envelope with a message and optional data.
func Message(c echo.Context, message string, data interface{}) error {
	return c.JSON(http.StatusOK, Envelope{Success: true, Message: message, Data: data})
}

// Paged writes a 200 envelope with pagination metadata.
func Paged(c echo.Context, data interface{}, p pagination.Params, total int) error {
	return c.JSON(http.StatusOK, Envelope{
		Success:    true,
		Data:       data,
		Pagination: pagination.NewMeta(p, total),
	})
}

// Fail writes a failure envelope with the given status.
func Fail(c echo.Context, status int, message string, fields []FieldError) error {
	return c.JSON(status, Envelope{Success: false, Message: message, Errors: fields})
}

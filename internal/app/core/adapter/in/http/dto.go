package http

import (
	"bytes"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/JoeShih716/go-bank-ledger/internal/app/core/domain"
)

// decimalText JSON 中的金額，接受數字或字串並保留原始文字，不經過 float64
type decimalText string

func (d *decimalText) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*d = decimalText(s)
		return nil
	}
	*d = decimalText(data)
	return nil
}

// idField JSON 中的帳戶 ID，接受數字或數字字串
type idField int64

func (i *idField) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		data = []byte(s)
	}
	v, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return errors.New("account id must be an integer")
	}
	*i = idField(v)
	return nil
}

type amountRequest struct {
	AccountID idField     `json:"accountId"`
	Amount    decimalText `json:"amount"`
}

type transferRequest struct {
	FromAccount idField     `json:"fromAccount"`
	ToAccount   idField     `json:"toAccount"`
	Amount      decimalText `json:"amount"`
}

type accountIDRequest struct {
	AccountID idField `json:"accountId"`
}

type accountDTO struct {
	ID            int64     `json:"id"`
	AccountNumber string    `json:"accountNumber"`
	Balance       string    `json:"balance"`
	Status        string    `json:"status"`
	CreatedAt     time.Time `json:"createdAt"`
}

type transactionDTO struct {
	ID                 int64     `json:"id"`
	RefID              string    `json:"refId,omitempty"`
	Type               string    `json:"type"`
	Amount             string    `json:"amount"`
	SourceAccount      *string   `json:"sourceAccount"`
	DestinationAccount *string   `json:"destinationAccount"`
	CreatedAt          time.Time `json:"createdAt"`
}

type paginationDTO struct {
	Page       int   `json:"page"`
	Limit      int   `json:"limit"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"totalPages"`
}

func toAccountDTO(a *domain.Account) accountDTO {
	return accountDTO{
		ID:            a.ID,
		AccountNumber: a.AccountNumber,
		Balance:       domain.FormatAmount(a.Balance),
		Status:        string(a.Status),
		CreatedAt:     a.CreatedAt,
	}
}

func toTransactionDTO(t *domain.Transaction) transactionDTO {
	out := transactionDTO{
		ID:                 t.ID,
		Type:               string(t.Type),
		Amount:             domain.FormatAmount(t.Amount),
		SourceAccount:      optional(t.SourceAccount),
		DestinationAccount: optional(t.DestinationAccount),
		CreatedAt:          t.CreatedAt,
	}
	if t.HasRef() {
		out.RefID = t.RefID.String()
	}
	return out
}

func toTransactionDTOs(txs []*domain.Transaction) []transactionDTO {
	out := make([]transactionDTO, 0, len(txs))
	for _, t := range txs {
		out = append(out, toTransactionDTO(t))
	}
	return out
}

func toPagination(page *domain.HistoryPage) paginationDTO {
	return paginationDTO{
		Page:       page.Page,
		Limit:      page.PageSize,
		Total:      page.Total,
		TotalPages: page.TotalPages,
	}
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

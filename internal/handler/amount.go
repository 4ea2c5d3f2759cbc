package handler

import (
	"encoding/json"
	"fmt"

	"github.com/efreitasn/bourse/internal/domain"
)

// amountCodec converts between JSON decimal amounts and int64 minor units.
type amountCodec struct {
	decimals int32
}

func newAmountCodec(decimals int32) amountCodec {
	return amountCodec{decimals: decimals}
}

// parse converts a JSON amount, rejecting it with a validation error of the
// given code.
func (c amountCodec) parse(field string, n json.Number, code string) (int64, error) {
	v, err := domain.ParseAmount(n.String(), c.decimals)
	if err != nil {
		return 0, domain.NewValidationError(code, fmt.Sprintf("%s: %v", field, err))
	}
	return v, nil
}

// parseOptional is parse for fields that may be absent.
func (c amountCodec) parseOptional(field string, n *json.Number, code string) (*int64, error) {
	if n == nil {
		return nil, nil
	}
	v, err := c.parse(field, *n, code)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func (c amountCodec) format(minor int64) json.Number {
	return json.Number(domain.FormatAmount(minor, c.decimals))
}

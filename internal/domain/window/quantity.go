package window

import (
	"encoding/json"

	"github.com/shopspring/decimal"

	ierr "github.com/meterline/meterline/internal/errors"
)

// Rate is a time-integrated quantity, e.g. memory-seconds. Consumed holds
// everything integrated up to Since; Consuming is the rate in effect from
// Since onward. Since is unix milliseconds.
type Rate struct {
	Consumed  decimal.Decimal `json:"consumed"`
	Consuming decimal.Decimal `json:"consuming"`
	Since     int64           `json:"since"`
}

// Quantity is either a scalar amount or a Rate. A metric keeps the same
// shape across a tenant's history; mixing shapes is an aggregation error.
// The zero Quantity is "empty" and serializes as JSON null.
type Quantity struct {
	scalar *decimal.Decimal
	rate   *Rate
}

func NewScalar(d decimal.Decimal) Quantity {
	return Quantity{scalar: &d}
}

func NewScalarInt64(v int64) Quantity {
	return NewScalar(decimal.NewFromInt(v))
}

func NewRate(consumed, consuming decimal.Decimal, sinceMillis int64) Quantity {
	return Quantity{rate: &Rate{Consumed: consumed, Consuming: consuming, Since: sinceMillis}}
}

func (q Quantity) IsEmpty() bool {
	return q.scalar == nil && q.rate == nil
}

func (q Quantity) IsScalar() bool {
	return q.scalar != nil
}

func (q Quantity) IsRate() bool {
	return q.rate != nil
}

// Scalar returns the scalar value, zero when empty or a rate.
func (q Quantity) Scalar() decimal.Decimal {
	if q.scalar == nil {
		return decimal.Zero
	}
	return *q.scalar
}

// Rate returns a copy of the rate value, nil when not a rate.
func (q Quantity) Rate() *Rate {
	if q.rate == nil {
		return nil
	}
	r := *q.rate
	return &r
}

// Equal reports shape and value equality.
func (q Quantity) Equal(other Quantity) bool {
	switch {
	case q.IsEmpty() && other.IsEmpty():
		return true
	case q.IsScalar() && other.IsScalar():
		return q.scalar.Equal(*other.scalar)
	case q.IsRate() && other.IsRate():
		return q.rate.Consumed.Equal(other.rate.Consumed) &&
			q.rate.Consuming.Equal(other.rate.Consuming) &&
			q.rate.Since == other.rate.Since
	}
	return false
}

// invalidValue is the rejection for NaN/null/undefined results; the message
// is part of the external contract.
func invalidValue() error {
	return ierr.NewError("Aggregation resulted in invalid value: NaN").
		WithHint("Aggregation resulted in invalid value: NaN").
		Mark(ierr.ErrInvalidAggregation)
}

// Merge folds an incoming quantity into the accumulated baseline.
// Scalars replace the baseline. Rates integrate: the previous consuming
// rate is applied over the wall-clock interval between the two Since
// stamps and added to the previous consumed total.
func (q Quantity) Merge(next Quantity) (Quantity, error) {
	if next.IsEmpty() {
		return Quantity{}, invalidValue()
	}
	if q.IsEmpty() {
		return next, nil
	}
	if q.IsScalar() != next.IsScalar() {
		return Quantity{}, invalidValue()
	}
	if next.IsScalar() {
		return next, nil
	}

	prev := q.rate
	in := next.rate
	elapsed := decimal.NewFromInt(in.Since - prev.Since)
	consumed := prev.Consumed.Add(prev.Consuming.Mul(elapsed))
	return Quantity{rate: &Rate{
		Consumed:  consumed,
		Consuming: in.Consuming,
		Since:     in.Since,
	}}, nil
}

// Sub computes the contribution delta current − previous. An empty previous
// means the whole current value is the delta.
func (q Quantity) Sub(previous Quantity) (Quantity, error) {
	if q.IsEmpty() {
		return Quantity{}, invalidValue()
	}
	if previous.IsEmpty() {
		return q, nil
	}
	if q.IsScalar() != previous.IsScalar() {
		return Quantity{}, invalidValue()
	}
	if q.IsScalar() {
		return NewScalar(q.scalar.Sub(*previous.scalar)), nil
	}
	return Quantity{rate: &Rate{
		Consumed:  q.rate.Consumed.Sub(previous.rate.Consumed),
		Consuming: q.rate.Consuming.Sub(previous.rate.Consuming),
		Since:     q.rate.Since,
	}}, nil
}

// Add sums two quantities of the same shape. Used by aggregation, where a
// scope's value is the sum of its members' contributions.
func (q Quantity) Add(other Quantity) (Quantity, error) {
	if other.IsEmpty() {
		return Quantity{}, invalidValue()
	}
	if q.IsEmpty() {
		return other, nil
	}
	if q.IsScalar() != other.IsScalar() {
		return Quantity{}, invalidValue()
	}
	if q.IsScalar() {
		return NewScalar(q.scalar.Add(*other.scalar)), nil
	}
	since := q.rate.Since
	if other.rate.Since > since {
		since = other.rate.Since
	}
	return Quantity{rate: &Rate{
		Consumed:  q.rate.Consumed.Add(other.rate.Consumed),
		Consuming: q.rate.Consuming.Add(other.rate.Consuming),
		Since:     since,
	}}, nil
}

// MarshalJSON renders scalars as bare numbers, rates as objects and empty
// quantities as null, matching the stored document format.
func (q Quantity) MarshalJSON() ([]byte, error) {
	switch {
	case q.scalar != nil:
		return json.Marshal(q.scalar)
	case q.rate != nil:
		return json.Marshal(q.rate)
	}
	return []byte("null"), nil
}

func (q *Quantity) UnmarshalJSON(data []byte) error {
	s := string(data)
	if s == "null" {
		*q = Quantity{}
		return nil
	}
	if len(data) > 0 && data[0] == '{' {
		var r Rate
		if err := json.Unmarshal(data, &r); err != nil {
			return ierr.WithError(err).
				WithHint("Invalid rate quantity").
				Mark(ierr.ErrValidation)
		}
		q.rate = &r
		q.scalar = nil
		return nil
	}
	var d decimal.Decimal
	if err := json.Unmarshal(data, &d); err != nil {
		return ierr.WithError(err).
			WithHint("Invalid scalar quantity").
			Mark(ierr.ErrValidation)
	}
	q.scalar = &d
	q.rate = nil
	return nil
}

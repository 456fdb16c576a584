package providera

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	pkgerrors "github.com/angelmondragon/giroflow-backend/pkg/errors"
)

const (
	serviceOCR        = "09"
	serviceAvtaleGiro = "21"

	transactionGiro       = "13"
	transactionAvtaleGiro = "21"
	transactionInfo       = "94"

	recordAmountItem1 = "30"
	recordAgreement   = "70"
)

// RegistrationType is how the clearing house reports an agreement change.
type RegistrationType int

const (
	RegistrationTotalReadout RegistrationType = 0
	RegistrationDeleted      RegistrationType = 1
	RegistrationAdded        RegistrationType = 2
)

// AgreementUpdate is one agreement record from an incoming file.
type AgreementUpdate struct {
	FBONumber    int
	Registration RegistrationType
	KID          string
	Notice       bool
}

func (u AgreementUpdate) TotalReadout() bool { return u.Registration == RegistrationTotalReadout }
func (u AgreementUpdate) Terminated() bool   { return u.Registration == RegistrationDeleted }

// Payment is a confirmed transaction from an OCR file.
type Payment struct {
	TransactionType string
	Number          string
	Date            time.Time
	Amount          decimal.Decimal
	KID             string
	TransactionID   string
}

// AvtaleGiro reports whether the payment came from a direct-debit agreement
// rather than a manual giro.
func (p Payment) AvtaleGiro() bool { return p.TransactionType == transactionAvtaleGiro }

// ParseAgreementUpdates returns every agreement record (service 21, transaction 94, type 70).
func ParseAgreementUpdates(content []byte) ([]AgreementUpdate, error) {
	lines := splitLines(content)
	var out []AgreementUpdate
	for i, line := range lines {
		if len(line) < 42 {
			continue
		}
		if line[2:4] != serviceAvtaleGiro || line[4:6] != transactionInfo || line[6:8] != recordAgreement {
			continue
		}
		fbo, err := strconv.Atoi(strings.TrimSpace(line[8:15]))
		if err != nil {
			return nil, parseError(i, "fbo number", err)
		}
		reg, err := strconv.Atoi(line[15:16])
		if err != nil || reg < 0 || reg > 2 {
			return nil, parseError(i, "registration type", fmt.Errorf("unknown value %q", line[15:16]))
		}
		out = append(out, AgreementUpdate{
			FBONumber:    fbo,
			Registration: RegistrationType(reg),
			KID:          strings.TrimSpace(line[16:41]),
			Notice:       line[41:42] == "1",
		})
	}
	return out, nil
}

// ParseOCR returns the payments of an OCR file. Each amount item 1 is read
// together with the amount item 2 on the following line.
func ParseOCR(content []byte) ([]Payment, error) {
	lines := splitLines(content)
	var out []Payment
	for i := 0; i < len(lines)-1; i++ {
		cur := lines[i]
		if len(cur) < 74 {
			continue
		}
		if cur[2:4] != serviceOCR || cur[6:8] != recordAmountItem1 {
			continue
		}
		tx := cur[4:6]
		if tx != transactionGiro && tx != transactionAvtaleGiro {
			continue
		}
		next := lines[i+1]
		if len(next) < 34 {
			return nil, parseError(i+1, "amount item 2", fmt.Errorf("line too short"))
		}

		day, month, year := cur[15:17], cur[17:19], cur[19:21]
		date, err := time.Parse("020106", day+month+year)
		if err != nil {
			return nil, parseError(i, "date", err)
		}
		minor, err := strconv.ParseInt(strings.TrimSpace(cur[32:49]), 10, 64)
		if err != nil {
			return nil, parseError(i, "amount", err)
		}
		running, err := strconv.Atoi(strings.TrimSpace(next[9:15]))
		if err != nil {
			return nil, parseError(i+1, "transaction number", err)
		}

		out = append(out, Payment{
			TransactionType: tx,
			Number:          cur[8:15],
			Date:            date,
			Amount:          decimal.New(minor, -2),
			KID:             strings.TrimSpace(cur[49:74]),
			TransactionID:   fmt.Sprintf("%s%s%s.%s%d", day, month, year, next[25:34], running),
		})
	}
	return out, nil
}

func splitLines(content []byte) []string {
	text := strings.ReplaceAll(string(content), "\r\n", "\n")
	return strings.Split(text, "\n")
}

func parseError(line int, field string, err error) error {
	return pkgerrors.Wrap(pkgerrors.CodeProtocolParse, err, fmt.Sprintf("line %d: invalid %s", line+1, field))
}

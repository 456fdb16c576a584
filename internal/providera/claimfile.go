package providera

import (
	"fmt"
	"strings"
	"time"

	pkgerrors "github.com/angelmondragon/giroflow-backend/pkg/errors"
)

const (
	recordWidth = 80
	dateLayout  = "020106"
)

// Claim is one amount to collect under an agreement.
type Claim struct {
	KID         string
	AmountMinor int64
	// ShortName is the payer name printed on the bank statement.
	ShortName string
}

// FileHeader identifies the data sender towards the clearing house.
type FileHeader struct {
	CustomerID    string
	AccountNumber string
}

// ClaimFile is a rendered claim file ready for upload.
type ClaimFile struct {
	Name       string
	Content    []byte
	Claims     int
	TotalMinor int64
	DueDate    time.Time
}

// FileName follows DIRREM{created}.{due}.{shipment}.
func FileName(created, due time.Time, shipmentID int64) string {
	return fmt.Sprintf("DIRREM%s.%s.%d", created.Format(dateLayout), due.Format(dateLayout), shipmentID)
}

// WriteClaimFile renders a transmission with one payment assignment per claim.
func WriteClaimFile(h FileHeader, shipmentID int64, claims []Claim, dueDate, created time.Time) (ClaimFile, error) {
	if len(claims) == 0 {
		return ClaimFile{}, pkgerrors.New(pkgerrors.CodeValidation, "no claims to write")
	}
	if len(h.AccountNumber) != 11 {
		return ClaimFile{}, pkgerrors.New(pkgerrors.CodeValidation, "account number must have 11 digits")
	}

	var b strings.Builder
	var total int64
	writeRecord(&b, fmt.Sprintf("NY000010%s%s00008080", leftPad(h.CustomerID, 8, '0'), leftPad(fmt.Sprint(shipmentID), 7, '0')), '0')

	for i, c := range claims {
		if c.AmountMinor <= 0 {
			return ClaimFile{}, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("claim for %s has no amount", c.KID))
		}
		if len(c.KID) > 25 {
			return ClaimFile{}, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("KID %s too long", c.KID))
		}
		writeAssignment(&b, h, i+1, c, dueDate)
		total += c.AmountMinor
	}

	end := fmt.Sprintf("NY000089%s%s%s%s",
		leftPad(fmt.Sprint(len(claims)), 8, '0'),
		leftPad(fmt.Sprint(len(claims)*4+2), 8, '0'),
		leftPad(fmt.Sprint(total), 17, '0'),
		dueDate.Format(dateLayout),
	)
	writeRecord(&b, end, '0')

	return ClaimFile{
		Name:       FileName(created, dueDate, shipmentID),
		Content:    []byte(b.String()),
		Claims:     len(claims),
		TotalMinor: total,
		DueDate:    dueDate,
	}, nil
}

// writeAssignment emits start, amount item 1 and 2, and end for a single claim.
func writeAssignment(b *strings.Builder, h FileHeader, assignment int, c Claim, dueDate time.Time) {
	const transaction = 1

	start := rightPad("NY210020", 17, '0') + leftPad(fmt.Sprint(assignment), 7, '0') + h.AccountNumber
	writeRecord(b, start, '0')

	first := rightPad(fmt.Sprintf("NY210230%s%s", leftPad(fmt.Sprint(transaction), 7, '0'), dueDate.Format(dateLayout)), 32, '0')
	first += leftPad(fmt.Sprint(c.AmountMinor), 17, '0')
	first += leftPad(c.KID, 25, ' ')
	writeRecord(b, first, '0')

	second := rightPad(fmt.Sprintf("NY210231%s%s", leftPad(fmt.Sprint(transaction), 7, '0'), shortName(c.ShortName)), 75, ' ')
	writeRecord(b, second, '0')

	end := fmt.Sprintf("NY210088%s%s%s%s%s",
		leftPad("1", 8, '0'),
		leftPad("4", 8, '0'),
		leftPad(fmt.Sprint(c.AmountMinor), 17, '0'),
		dueDate.Format(dateLayout),
		dueDate.Format(dateLayout),
	)
	writeRecord(b, end, '0')
}

// shortName upper-cases the first ten characters and drops whitespace.
func shortName(name string) string {
	runes := []rune(strings.ToUpper(name))
	if len(runes) > 10 {
		runes = runes[:10]
	}
	compact := strings.Join(strings.Fields(string(runes)), "")
	return leftPad(compact, 10, ' ')
}

func writeRecord(b *strings.Builder, line string, fill rune) {
	b.WriteString(rightPad(line, recordWidth, fill))
	b.WriteByte('\n')
}

func leftPad(s string, width int, fill rune) string {
	n := width - len([]rune(s))
	if n <= 0 {
		return s
	}
	return strings.Repeat(string(fill), n) + s
}

func rightPad(s string, width int, fill rune) string {
	n := width - len([]rune(s))
	if n <= 0 {
		return s
	}
	return s + strings.Repeat(string(fill), n)
}

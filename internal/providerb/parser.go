package providerb

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/encoding/charmap"

	pkgerrors "github.com/angelmondragon/giroflow-backend/pkg/errors"
)

const (
	layoutName    = "AUTOGIRO"
	recordWidth   = 80
	fileDateStyle = "20060102"
)

// Content is the discriminator carried by the opening record of an inbound file.
type Content string

const (
	ContentPaymentSpecification Content = "BET. SPEC & STOPP TK"
	ContentMandateAdvice        Content = "AG-MEDAVI"
	ContentEMandates            Content = "AG-EMEDGIV"
	ContentRejectedCharges      Content = "AVVISADE BET UPPDR"
	ContentCancellations        Content = "MAKULERING/ANDRING"
)

var knownContents = []Content{
	ContentPaymentSpecification,
	ContentMandateAdvice,
	ContentEMandates,
	ContentRejectedCharges,
	ContentCancellations,
}

// PaymentStatus is the outcome code on a payment specification line.
type PaymentStatus int

const (
	PaymentApproved          PaymentStatus = 0
	PaymentInsufficientFunds PaymentStatus = 1
	PaymentAccountClosed     PaymentStatus = 2
	PaymentRenewed           PaymentStatus = 9
)

type OpeningRecord struct {
	Written        string
	Content        Content
	CustomerNumber string
	Bankgiro       string
}

// Payment is an incoming (82) or outgoing (32) line in a payment specification.
type Payment struct {
	Outgoing    bool
	Date        time.Time
	PayerNumber string
	AmountMinor int64
	Reference   string
	Status      PaymentStatus
}

// Approved reports whether money actually moved.
func (p Payment) Approved() bool { return p.Status == PaymentApproved }

// Deposit groups payments settled to the payee account on one date.
type Deposit struct {
	Date             time.Time
	ApprovedMinor    int64
	ApprovedPayments int
	Payments         []Payment
}

type Refund struct {
	PayerNumber string
	AmountMinor int64
	Reference   string
	RefundDate  time.Time
	Code        int
}

// MandateInfo codes on a mandate advice record.
const (
	MandateInfoDeletion         = 3
	MandateInfoAddition         = 4
	MandateInfoChange           = 5
	MandateInfoCancellation     = 10
	MandateInfoBankResponseNew  = 42
	MandateInfoDeletedClosed    = 43
	MandateInfoDeletedNoAccount = 44
	MandateInfoDeletedByPayer   = 46

	MandateCommentNewMandate = 32
)

type MandateAdvice struct {
	Bankgiro    string
	PayerNumber string
	BankAccount string
	SSN         string
	InfoCode    int
	CommentCode int
	Date        time.Time
}

// Cancels reports whether the advice ends the mandate.
func (m MandateAdvice) Cancels() bool {
	switch m.InfoCode {
	case MandateInfoDeletion, MandateInfoCancellation, MandateInfoDeletedClosed,
		MandateInfoDeletedNoAccount, MandateInfoDeletedByPayer:
		return true
	}
	return false
}

// Activates reports whether the bank confirmed a new mandate.
func (m MandateAdvice) Activates() bool {
	return (m.InfoCode == MandateInfoAddition || m.InfoCode == MandateInfoBankResponseNew) &&
		m.CommentCode == MandateCommentNewMandate
}

// EMandate is a mandate a payer signed in their internet bank.
type EMandate struct {
	Bankgiro           string
	PayerNumber        string
	BankAccount        string
	SSN                string
	InfoCode           int
	SpecialInformation string
	NameAndAddress     string
	PostalCode         string
	PostalCity         string

	nameLine string
}

// Name is the first name-and-address line, which carries the payer's name.
func (m EMandate) Name() string {
	return m.nameLine
}

type RejectedCharge struct {
	Outgoing    bool
	Date        time.Time
	PayerNumber string
	AmountMinor int64
	Reference   string
	CommentCode string
}

type Cancellation struct {
	Code        string
	Date        time.Time
	PayerNumber string
	PaymentCode string
	AmountMinor int64
	Reference   string
	CommentCode string
}

// Amendment is a bank-side change to a queued charge. They are reported, not applied.
type Amendment struct {
	Code        string
	PayerNumber string
	Line        string
}

// File is a parsed inbound file. Only the slices matching Opening.Content are set.
type File struct {
	Opening       OpeningRecord
	Deposits      []Deposit
	Withdrawals   []Deposit
	Refunds       []Refund
	Mandates      []MandateAdvice
	EMandates     []EMandate
	Rejected      []RejectedCharge
	Cancellations []Cancellation
	Amendments    []Amendment
}

// ParseFile reads an inbound Bankgirot file and dispatches on its content
// discriminator. Unknown record codes are parse errors.
func ParseFile(content []byte) (File, error) {
	lines := splitLines(content)
	if len(lines) == 0 {
		return File{}, pkgerrors.New(pkgerrors.CodeProtocolParse, "empty file")
	}
	opening, err := parseOpening(lines[0])
	if err != nil {
		return File{}, err
	}
	f := File{Opening: opening}
	p := &fileParser{file: &f}
	for i, raw := range lines[1:] {
		line := padLine(raw)
		p.lineNo = i + 2
		code := line[0:2]
		if code == "09" || code == "59" {
			break
		}
		switch opening.Content {
		case ContentPaymentSpecification:
			err = p.paymentSpecification(code, line)
		case ContentMandateAdvice:
			err = p.mandateAdvice(code, line)
		case ContentEMandates:
			err = p.eMandate(code, line)
		case ContentRejectedCharges:
			err = p.rejected(code, line)
		case ContentCancellations:
			err = p.cancellation(code, line)
		}
		if err != nil {
			return File{}, err
		}
	}
	return f, nil
}

func parseOpening(raw string) (OpeningRecord, error) {
	line := padLine(raw)
	if line[0:2] != "01" || line[2:22] != padRight(layoutName, 20, ' ') {
		return OpeningRecord{}, pkgerrors.New(pkgerrors.CodeProtocolParse, "missing AUTOGIRO opening record")
	}
	content := Content(strings.TrimSpace(line[44:64]))
	known := false
	for _, c := range knownContents {
		if c == content {
			known = true
			break
		}
	}
	if !known {
		return OpeningRecord{}, pkgerrors.New(pkgerrors.CodeProtocolParse, fmt.Sprintf("unknown file contents %q", content))
	}
	return OpeningRecord{
		Written:        strings.TrimSpace(line[24:44]),
		Content:        content,
		CustomerNumber: line[64:70],
		Bankgiro:       line[70:80],
	}, nil
}

type fileParser struct {
	file   *File
	lineNo int
}

func (p *fileParser) unknown(code string) error {
	return pkgerrors.New(pkgerrors.CodeProtocolParse,
		fmt.Sprintf("line %d: unexpected record %s in %s file", p.lineNo, code, p.file.Opening.Content))
}

func (p *fileParser) invalid(field string, err error) error {
	return pkgerrors.Wrap(pkgerrors.CodeProtocolParse, err, fmt.Sprintf("line %d: invalid %s", p.lineNo, field))
}

func (p *fileParser) paymentSpecification(code, line string) error {
	f := p.file
	switch code {
	case "15", "16":
		date, err := parseDate(line[37:45])
		if err != nil {
			return p.invalid("deposit date", err)
		}
		amount, err := parseInt(line[50:68])
		if err != nil {
			return p.invalid("approved amount", err)
		}
		count, err := strconv.Atoi(strings.TrimSpace(line[71:79]))
		if err != nil {
			return p.invalid("approved count", err)
		}
		d := Deposit{Date: date, ApprovedMinor: amount, ApprovedPayments: count}
		if code == "15" {
			f.Deposits = append(f.Deposits, d)
		} else {
			f.Withdrawals = append(f.Withdrawals, d)
		}
	case "82", "32":
		payment, err := p.payment(line)
		if err != nil {
			return err
		}
		payment.Outgoing = code == "32"
		group := &f.Deposits
		if payment.Outgoing {
			group = &f.Withdrawals
		}
		if len(*group) == 0 {
			return p.invalid("payment", fmt.Errorf("record %s before its group record", code))
		}
		last := &(*group)[len(*group)-1]
		last.Payments = append(last.Payments, payment)
	case "17":
	case "77":
		amount, err := parseInt(line[31:43])
		if err != nil {
			return p.invalid("refund amount", err)
		}
		date, err := parseDate(line[69:77])
		if err != nil {
			return p.invalid("refund date", err)
		}
		refundCode, _ := strconv.Atoi(strings.TrimSpace(line[77:79]))
		f.Refunds = append(f.Refunds, Refund{
			PayerNumber: line[15:31],
			AmountMinor: amount,
			Reference:   strings.TrimSpace(line[53:69]),
			RefundDate:  date,
			Code:        refundCode,
		})
	default:
		return p.unknown(code)
	}
	return nil
}

func (p *fileParser) payment(line string) (Payment, error) {
	date, err := parseDate(line[2:10])
	if err != nil {
		return Payment{}, p.invalid("payment date", err)
	}
	amount, err := parseInt(line[31:43])
	if err != nil {
		return Payment{}, p.invalid("payment amount", err)
	}
	status, err := strconv.Atoi(line[79:80])
	if err != nil {
		return Payment{}, p.invalid("payment status", err)
	}
	return Payment{
		Date:        date,
		PayerNumber: line[15:31],
		AmountMinor: amount,
		Reference:   strings.TrimSpace(line[53:69]),
		Status:      PaymentStatus(status),
	}, nil
}

func (p *fileParser) mandateAdvice(code, line string) error {
	if code != "73" {
		return p.unknown(code)
	}
	info, err := strconv.Atoi(strings.TrimSpace(line[61:63]))
	if err != nil {
		return p.invalid("information code", err)
	}
	comment, err := strconv.Atoi(strings.TrimSpace(line[63:65]))
	if err != nil {
		return p.invalid("comment code", err)
	}
	date, err := parseDate(line[65:73])
	if err != nil {
		return p.invalid("mandate date", err)
	}
	p.file.Mandates = append(p.file.Mandates, MandateAdvice{
		Bankgiro:    line[2:12],
		PayerNumber: line[12:28],
		BankAccount: strings.TrimSpace(line[28:44]),
		SSN:         strings.TrimSpace(line[44:56]),
		InfoCode:    info,
		CommentCode: comment,
		Date:        date,
	})
	return nil
}

func (p *fileParser) eMandate(code, line string) error {
	f := p.file
	if code == "51" {
		info, err := strconv.Atoi(strings.TrimSpace(line[61:62]))
		if err != nil {
			return p.invalid("information code", err)
		}
		f.EMandates = append(f.EMandates, EMandate{
			Bankgiro:    line[2:12],
			PayerNumber: line[13:28],
			BankAccount: strings.TrimSpace(line[28:44]),
			SSN:         strings.TrimSpace(line[44:56]),
			InfoCode:    info,
		})
		return nil
	}
	if len(f.EMandates) == 0 {
		return p.invalid("e-mandate", fmt.Errorf("record %s before record 51", code))
	}
	m := &f.EMandates[len(f.EMandates)-1]
	switch code {
	case "52":
		m.SpecialInformation = text(line[2:38])
	case "53", "54":
		first, second := text(line[2:38]), text(line[38:74])
		if code == "53" {
			m.nameLine = first
		}
		m.NameAndAddress = joinNonEmpty(m.NameAndAddress, first, second)
	case "55":
		m.PostalCode = strings.TrimSpace(line[2:7])
		m.PostalCity = text(line[7:38])
	default:
		return p.unknown(code)
	}
	return nil
}

func (p *fileParser) rejected(code, line string) error {
	if code != "82" && code != "32" {
		return p.unknown(code)
	}
	date, err := parseDate(line[2:10])
	if err != nil {
		return p.invalid("charge date", err)
	}
	amount, err := parseInt(line[30:42])
	if err != nil {
		return p.invalid("charge amount", err)
	}
	p.file.Rejected = append(p.file.Rejected, RejectedCharge{
		Outgoing:    code == "32",
		Date:        date,
		PayerNumber: line[14:30],
		AmountMinor: amount,
		Reference:   strings.TrimSpace(line[42:58]),
		CommentCode: line[58:60],
	})
	return nil
}

func (p *fileParser) cancellation(code, line string) error {
	switch code {
	case "23", "24", "25", "26", "27":
		date, err := parseDate(line[2:10])
		if err != nil {
			return p.invalid("cancellation date", err)
		}
		amount, err := parseInt(line[28:40])
		if err != nil {
			return p.invalid("cancellation amount", err)
		}
		p.file.Cancellations = append(p.file.Cancellations, Cancellation{
			Code:        code,
			Date:        date,
			PayerNumber: line[10:26],
			PaymentCode: line[26:28],
			AmountMinor: amount,
			Reference:   strings.TrimSpace(line[56:72]),
			CommentCode: line[72:74],
		})
	case "28", "29":
		p.file.Amendments = append(p.file.Amendments, Amendment{
			Code:        code,
			PayerNumber: line[10:26],
			Line:        strings.TrimRight(line, " "),
		})
	default:
		return p.unknown(code)
	}
	return nil
}

// KIDFromPayerNumber recovers the KID written as a zero-padded payer number.
func KIDFromPayerNumber(payer string) string {
	payer = strings.TrimSpace(payer)
	if len(payer) > 15 {
		payer = payer[len(payer)-15:]
	}
	if len(payer) == 15 && strings.HasPrefix(payer, "0000000") {
		return payer[7:]
	}
	return payer
}

// text decodes a free-text field. Bankgirot files are ISO 8859-1.
func text(field string) string {
	decoded, err := charmap.ISO8859_1.NewDecoder().String(field)
	if err != nil {
		decoded = field
	}
	return strings.TrimSpace(decoded)
}

func parseDate(s string) (time.Time, error) {
	return time.ParseInLocation(fileDateStyle, strings.TrimSpace(s), time.UTC)
}

func parseInt(s string) (int64, error) {
	return strconv.ParseInt(strings.TrimSpace(s), 10, 64)
}

func joinNonEmpty(parts ...string) string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, " ")
}

func padLine(line string) string {
	if len(line) >= recordWidth {
		return line
	}
	return line + strings.Repeat(" ", recordWidth-len(line))
}

func splitLines(content []byte) []string {
	raw := strings.Split(strings.ReplaceAll(string(content), "\r\n", "\n"), "\n")
	lines := raw[:0]
	for _, l := range raw {
		if strings.TrimSpace(l) != "" {
			lines = append(lines, l)
		}
	}
	return lines
}

package providerb

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	pkgerrors "github.com/angelmondragon/giroflow-backend/pkg/errors"
)

const (
	paymentCodeIncoming = "82"
	fileNameStamp       = "060102.150405"
)

type Header struct {
	CustomerNumber string
	Bankgiro       string
}

// Withdrawal asks the bank to debit a payer once on Date.
type Withdrawal struct {
	Date        time.Time
	PayerNumber string
	AmountMinor int64
	Reference   string
}

// ChargeCancellation withdraws a previously sent withdrawal, matched on
// payer, date, amount and reference.
type ChargeCancellation struct {
	ClaimDate   time.Time
	PayerNumber string
	AmountMinor int64
	Reference   string
}

type MandateConfirmation struct {
	PayerNumber string
	BankAccount string
	SSN         string
}

// ClaimFile is a rendered outbound file.
type ClaimFile struct {
	Name          string
	Content       []byte
	Withdrawals   int
	Cancellations int
	Confirmations int
	TotalMinor    int64
}

// FileName follows the BFEP.IAGAG.{shipment}.{yyMMdd.HHmmss} convention.
func FileName(shipmentID int64, created time.Time) string {
	return fmt.Sprintf("BFEP.IAGAG.%d.%s", shipmentID, created.Format(fileNameStamp))
}

// FileWriter renders an outbound file record by record, so callers can
// persist each charge before its withdrawal is written.
type FileWriter struct {
	header  Header
	written time.Time
	b       strings.Builder
	file    ClaimFile
}

func NewFileWriter(h Header, shipmentID int64, written time.Time) (*FileWriter, error) {
	if len(h.Bankgiro) == 0 || len(h.Bankgiro) > 10 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "bankgiro number must be 1-10 digits")
	}
	if len(h.CustomerNumber) == 0 || len(h.CustomerNumber) > 6 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "customer number must be 1-6 digits")
	}
	w := &FileWriter{header: h, written: written}
	w.file.Name = FileName(shipmentID, written)
	w.record("01" + written.Format(fileDateStyle) + layoutName + strings.Repeat(" ", 44) +
		padLeft(h.CustomerNumber, 6, '0') + padLeft(h.Bankgiro, 10, '0'))
	return w, nil
}

func (w *FileWriter) Withdrawal(wd Withdrawal) error {
	if wd.AmountMinor <= 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "withdrawal amount must be positive")
	}
	if err := checkWidth("payer number", wd.PayerNumber, 16); err != nil {
		return err
	}
	if err := checkWidth("reference", wd.Reference, 16); err != nil {
		return err
	}
	w.record(paymentCodeIncoming + wd.Date.Format(fileDateStyle) + "0    " +
		padLeft(wd.PayerNumber, 16, '0') +
		padLeft(strconv.FormatInt(wd.AmountMinor, 10), 12, '0') +
		padLeft(w.header.Bankgiro, 10, '0') +
		padRight(wd.Reference, 16, ' '))
	w.file.Withdrawals++
	w.file.TotalMinor += wd.AmountMinor
	return nil
}

func (w *FileWriter) Cancellation(c ChargeCancellation) error {
	if err := checkWidth("reference", c.Reference, 16); err != nil {
		return err
	}
	w.record("25" + padLeft(w.header.Bankgiro, 10, '0') +
		padLeft(c.PayerNumber, 16, '0') +
		c.ClaimDate.Format(fileDateStyle) +
		padLeft(strconv.FormatInt(c.AmountMinor, 10), 12, '0') +
		paymentCodeIncoming + strings.Repeat(" ", 8) +
		padRight(c.Reference, 16, ' '))
	w.file.Cancellations++
	return nil
}

func (w *FileWriter) MandateConfirmation(m MandateConfirmation) error {
	if err := checkWidth("payer number", m.PayerNumber, 16); err != nil {
		return err
	}
	w.record("04" + padLeft(w.header.Bankgiro, 10, '0') +
		padLeft(m.PayerNumber, 16, '0') +
		padLeft(m.BankAccount, 16, '0') +
		padLeft(m.SSN, 12, '0'))
	w.file.Confirmations++
	return nil
}

// Close writes the end record with the record counts and withdrawal total.
func (w *FileWriter) Close() ClaimFile {
	records := w.file.Withdrawals + w.file.Cancellations + w.file.Confirmations
	w.record("09" + w.written.Format(fileDateStyle) + "9900" +
		padLeft(strconv.Itoa(records), 6, '0') +
		padLeft(strconv.FormatInt(w.file.TotalMinor, 10), 12, '0'))
	w.file.Content = []byte(w.b.String())
	return w.file
}

// record pads to the fixed width with spaces.
func (w *FileWriter) record(s string) {
	w.b.WriteString(padRight(s, recordWidth, ' '))
	w.b.WriteByte('\n')
}

// PayerNumber is the payer number a KID is filed under.
func PayerNumber(kid string) string {
	return padLeft(kid, 16, '0')
}

func checkWidth(field, value string, max int) error {
	if value == "" || utf8.RuneCountInString(value) > max {
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("%s must be 1-%d characters", field, max))
	}
	return nil
}

func padLeft(s string, width int, pad rune) string {
	n := utf8.RuneCountInString(s)
	if n >= width {
		return s
	}
	return strings.Repeat(string(pad), width-n) + s
}

func padRight(s string, width int, pad rune) string {
	n := utf8.RuneCountInString(s)
	if n >= width {
		return s
	}
	return s + strings.Repeat(string(pad), width-n)
}

package notify

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Стили сообщений.
const (
	StylePlain = "plain"
	StyleRich  = "rich"
)

// BuyerMessage: данные сообщения покупателю.
type BuyerMessage struct {
	Name         string
	CreditsAdded decimal.Decimal
	OrderNumber  string
	Balance      decimal.Decimal
	HasBalance   bool
}

// AdminMessage: данные сообщения администратору.
type AdminMessage struct {
	CustomerID   int64
	CustomerName string
	CreditsAdded decimal.Decimal
	OrderNumber  string
}

// Formatter собирает тексты уведомлений.
type Formatter interface {
	Buyer(msg BuyerMessage) string
	Admin(msg AdminMessage) string
}

// NewFormatter выбирает стиль сообщений при старте.
func NewFormatter(style string) (Formatter, error) {
	printer := message.NewPrinter(language.BrazilianPortuguese)
	switch strings.ToLower(strings.TrimSpace(style)) {
	case "", StylePlain:
		return plainFormatter{printer: printer}, nil
	case StyleRich:
		return richFormatter{printer: printer}, nil
	default:
		return nil, fmt.Errorf("unknown notification style %q", style)
	}
}

type plainFormatter struct {
	printer *message.Printer
}

func (f plainFormatter) Buyer(msg BuyerMessage) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Olá %s! Você recebeu %s créditos pela compra do pedido #%s.",
		msg.Name, formatCredits(f.printer, msg.CreditsAdded), msg.OrderNumber)
	if msg.HasBalance {
		fmt.Fprintf(&b, " Seu saldo atual é de %s.", formatBalance(f.printer, msg.Balance))
	}
	return b.String()
}

func (f plainFormatter) Admin(msg AdminMessage) string {
	return fmt.Sprintf("O cliente #%d (%s) recebeu %s créditos pelo pedido #%s.",
		msg.CustomerID, msg.CustomerName, formatCredits(f.printer, msg.CreditsAdded), msg.OrderNumber)
}

type richFormatter struct {
	printer *message.Printer
}

func (f richFormatter) Buyer(msg BuyerMessage) string {
	var b strings.Builder
	fmt.Fprintf(&b, "*Olá, %s!*\n\nVocê recebeu *%s créditos* pela compra do pedido *#%s*.",
		msg.Name, formatCredits(f.printer, msg.CreditsAdded), msg.OrderNumber)
	if msg.HasBalance {
		fmt.Fprintf(&b, "\nSaldo atual: *%s*", formatBalance(f.printer, msg.Balance))
	}
	return b.String()
}

func (f richFormatter) Admin(msg AdminMessage) string {
	return fmt.Sprintf("*Créditos concedidos*\n\nCliente: #%d (%s)\nPedido: #%s\nCréditos: *%s*",
		msg.CustomerID, msg.CustomerName, msg.OrderNumber, formatCredits(f.printer, msg.CreditsAdded))
}

// formatCredits печатает целые суммы без дробной части, остальные с двумя знаками.
func formatCredits(printer *message.Printer, amount decimal.Decimal) string {
	if amount.IsInteger() {
		return printer.Sprintf("%d", amount.IntPart())
	}
	return formatBalance(printer, amount)
}

func formatBalance(printer *message.Printer, amount decimal.Decimal) string {
	return printer.Sprintf("%.2f", amount.Round(2).InexactFloat64())
}

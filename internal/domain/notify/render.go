package notify

import (
	"strings"
	"text/template"

	"github.com/go-faster/errors"
)

var (
	confirmationTmpl = template.Must(template.New("confirmation").Parse(`Hi {{.Name}},

Thank you for your order {{.OrderRef}}.

{{range .LineItems}}{{.Quantity}} x {{.Name}} @ {{.Price.StringFixed 2}}
{{end}}
Total: {{.Total.StringFixed 2}}
Payment method: {{.PaymentMethod}}
`))

	statusTmpl = template.Must(template.New("status").Parse(`Hi {{.Name}},

Your order {{.OrderRef}} is now {{.Status}}.
`))
)

// RenderOrderConfirmation renders the confirmation email for e.
func RenderOrderConfirmation(e OrderConfirmation) (Email, error) {
	var b strings.Builder
	if err := confirmationTmpl.Execute(&b, e); err != nil {
		return Email{}, errors.Wrap(err, "render confirmation")
	}
	return Email{
		To:      e.To,
		Subject: "Order confirmation " + e.OrderRef,
		Body:    b.String(),
	}, nil
}

// RenderStatusUpdate renders the status update email for e.
func RenderStatusUpdate(e StatusUpdate) (Email, error) {
	var b strings.Builder
	if err := statusTmpl.Execute(&b, e); err != nil {
		return Email{}, errors.Wrap(err, "render status update")
	}
	return Email{
		To:      e.To,
		Subject: "Order " + e.OrderRef + " is " + strings.ToLower(e.Status),
		Body:    b.String(),
	}, nil
}

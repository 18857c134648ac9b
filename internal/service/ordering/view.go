package ordering

import (
	"time"

	"github.com/vladislavdragonenkov/ordersaga/internal/domain"
)

// OrderView — представление заказа для опроса статуса через API.
type OrderView struct {
	ID          int64          `json:"orderId"`
	BuyerID     string         `json:"buyerId"`
	Status      string         `json:"status"`
	Description string         `json:"description,omitempty"`
	OrderDate   time.Time      `json:"orderDate"`
	PaymentRef  string         `json:"paymentRef,omitempty"`
	TotalMinor  int64          `json:"totalMinor"`
	Version     int64          `json:"version"`
	Address     AddressView    `json:"address"`
	Items       []ItemView     `json:"items"`
	Timeline    []TimelineView `json:"timeline,omitempty"`
}

type AddressView struct {
	Street  string `json:"street,omitempty"`
	City    string `json:"city,omitempty"`
	State   string `json:"state,omitempty"`
	Country string `json:"country,omitempty"`
	ZipCode string `json:"zipCode,omitempty"`
}

type ItemView struct {
	ProductID      int64  `json:"productId"`
	ProductName    string `json:"productName,omitempty"`
	UnitPriceMinor int64  `json:"unitPriceMinor"`
	Units          int32  `json:"units"`
	PictureURL     string `json:"pictureUrl,omitempty"`
}

type TimelineView struct {
	Type     string    `json:"type"`
	From     string    `json:"from,omitempty"`
	To       string    `json:"to"`
	Reason   string    `json:"reason,omitempty"`
	Occurred time.Time `json:"occurred"`
}

// NewOrderView строит представление заказа.
// withShipping=false проецирует Shipped в Paid для клиентов, не знающих статуса отгрузки.
func NewOrderView(order domain.Order, timeline []domain.TimelineEvent, withShipping bool) OrderView {
	view := OrderView{
		ID:          order.ID,
		BuyerID:     order.BuyerID,
		Status:      string(domain.ProjectStatus(order.Status, withShipping)),
		Description: order.Description,
		OrderDate:   order.OrderDate,
		PaymentRef:  order.PaymentRef,
		TotalMinor:  order.TotalMinor(),
		Version:     order.Version,
		Address: AddressView{
			Street:  order.Address.Street,
			City:    order.Address.City,
			State:   order.Address.State,
			Country: order.Address.Country,
			ZipCode: order.Address.ZipCode,
		},
		Items: make([]ItemView, 0, len(order.Items)),
	}
	for _, item := range order.Items {
		view.Items = append(view.Items, ItemView{
			ProductID:      item.ProductID,
			ProductName:    item.ProductName,
			UnitPriceMinor: item.UnitPriceMinor,
			Units:          item.Units,
			PictureURL:     item.PictureURL,
		})
	}
	for _, ev := range timeline {
		view.Timeline = append(view.Timeline, TimelineView{
			Type:     ev.Type,
			From:     string(domain.ProjectStatus(ev.From, withShipping)),
			To:       string(domain.ProjectStatus(ev.To, withShipping)),
			Reason:   ev.Reason,
			Occurred: ev.Occurred,
		})
	}
	return view
}

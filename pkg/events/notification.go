package events

import (
	"fmt"
	"strings"

	"github.com/parcelwatch/parcelwatch/pkg/model"
)

func humanStatus(status model.DeliveryStatus) string {
	return strings.ReplaceAll(string(status), "_", " ")
}

func GetNotificationData(e *deliveryEvent) model.EventNotificationData {
	eventNotificationData := model.EventNotificationData{}
	body := e.Body

	switch e.Type {
	case model.EventTypeDeliveryStatusChanged:
		eventNotificationData.Title = "Delivery update"
		eventNotificationData.Message = fmt.Sprintf("Parcel %s is now %s.", body.TrackingID, humanStatus(body.Status))
	case model.EventTypeDeliveryDelivered:
		eventNotificationData.Title = "Delivered"
		eventNotificationData.Message = fmt.Sprintf("Parcel %s has been delivered", body.TrackingID)
		if body.ReceiverName != "" {
			eventNotificationData.Message = fmt.Sprintf("%s to %s", eventNotificationData.Message, body.ReceiverName)
		}
		eventNotificationData.Message += "."
	case model.EventTypeDeliveryCancelled:
		eventNotificationData.Title = "Delivery cancelled"
		eventNotificationData.Message = fmt.Sprintf("Parcel %s has been cancelled.", body.TrackingID)
		if body.Reason != "" {
			eventNotificationData.Message = fmt.Sprintf("%s Reason: %s.", eventNotificationData.Message, body.Reason)
		}
	case model.EventTypeDeliveryDelayed:
		eventNotificationData.Title = "Delivery delayed"
		eventNotificationData.Message = fmt.Sprintf("Parcel %s has been delayed.", body.TrackingID)
		if body.Reason != "" {
			eventNotificationData.Message = fmt.Sprintf("%s Reason: %s.", eventNotificationData.Message, body.Reason)
		}
	case model.EventTypeDeliveryIncidentReported:
		eventNotificationData.Title = "Incident reported"
		if body.Incident != nil {
			eventNotificationData.Message = fmt.Sprintf("A %s severity %s incident was reported for parcel %s: %s",
				body.Incident.Severity, body.Incident.Type, body.TrackingID, body.Incident.Description)
		} else {
			eventNotificationData.Message = fmt.Sprintf("An incident was reported for parcel %s.", body.TrackingID)
		}
	}

	return eventNotificationData
}

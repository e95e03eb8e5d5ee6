package dto

// WebhookDeliverPayload is the body of a webhook.deliver task.
type WebhookDeliverPayload struct {
	DeliveryId string `json:"delivery_id"`
}

package push

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"

	webpush "github.com/SherClockHolmes/webpush-go"

	"github.com/kavehz/MentorAppBack/internal/models"
)

// Notifier fans one logical notification out to every device a user has
// registered. Delivery is best effort: one dead endpoint never blocks the
// others and partial failure is reported as counts, never as an error.

type Result struct {
	Attempted int `json:"attempted"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

type SubscriptionStore interface {
	ListByUser(ctx context.Context, userID int64) ([]models.PushSubscription, error)
	DeleteByEndpoint(ctx context.Context, endpoint string) error
}

type sendFunc func(ctx context.Context, message []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error)

type Notifier struct {
	subs            SubscriptionStore
	vapidPublicKey  string
	vapidPrivateKey string
	subscriber      string
	send            sendFunc
}

// NewNotifier returns nil when no VAPID key pair is configured; a nil
// Notifier accepts Notify calls and reports zero deliveries.
func NewNotifier(subs SubscriptionStore, vapidPublicKey, vapidPrivateKey, subscriber string) *Notifier {
	if vapidPublicKey == "" || vapidPrivateKey == "" {
		return nil
	}
	return &Notifier{
		subs:            subs,
		vapidPublicKey:  vapidPublicKey,
		vapidPrivateKey: vapidPrivateKey,
		subscriber:      subscriber,
		send:            webpush.SendNotificationWithContext,
	}
}

func (n *Notifier) VAPIDPublicKey() string {
	if n == nil {
		return ""
	}
	return n.vapidPublicKey
}

type payload struct {
	Title string            `json:"title"`
	Body  string            `json:"body"`
	Data  map[string]string `json:"data,omitempty"`
}

// Notify delivers to every subscription of userID in parallel. Zero
// subscriptions is a normal case, not an error. The returned error is
// non-nil only when the subscription lookup itself fails.
func (n *Notifier) Notify(ctx context.Context, userID int64, title, body string, data map[string]string) (Result, error) {
	if n == nil {
		return Result{}, nil
	}

	subs, err := n.subs.ListByUser(ctx, userID)
	if err != nil {
		return Result{}, err
	}
	if len(subs) == 0 {
		return Result{}, nil
	}

	message, err := json.Marshal(payload{Title: title, Body: body, Data: data})
	if err != nil {
		return Result{}, err
	}

	var wg sync.WaitGroup
	results := make([]bool, len(subs))
	for i, sub := range subs {
		wg.Add(1)
		go func(i int, sub models.PushSubscription) {
			defer wg.Done()
			results[i] = n.sendToDevice(ctx, sub, message)
		}(i, sub)
	}
	wg.Wait()

	result := Result{Attempted: len(subs)}
	for _, ok := range results {
		if ok {
			result.Succeeded++
		} else {
			result.Failed++
		}
	}
	return result, nil
}

func (n *Notifier) sendToDevice(ctx context.Context, sub models.PushSubscription, message []byte) bool {
	resp, err := n.send(ctx, message, &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.KeyP256dh,
			Auth:   sub.KeyAuth,
		},
	}, &webpush.Options{
		Subscriber:      n.subscriber,
		VAPIDPublicKey:  n.vapidPublicKey,
		VAPIDPrivateKey: n.vapidPrivateKey,
		TTL:             86400,
	})
	if err != nil {
		log.Printf("push: send to %s failed: %v", sub.Endpoint, err)
		return false
	}
	defer resp.Body.Close()

	// 410 Gone or 404 means the browser dropped the subscription.
	if resp.StatusCode == http.StatusGone || resp.StatusCode == http.StatusNotFound {
		if err := n.subs.DeleteByEndpoint(ctx, sub.Endpoint); err != nil {
			log.Printf("push: prune expired subscription %s: %v", sub.Endpoint, err)
		} else {
			log.Printf("push: removed expired subscription %s (status %d)", sub.Endpoint, resp.StatusCode)
		}
		return false
	}

	if resp.StatusCode >= 400 {
		log.Printf("push: send to %s rejected with status %d", sub.Endpoint, resp.StatusCode)
		return false
	}
	return true
}

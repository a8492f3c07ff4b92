package bot

import (
	"context"

	api "github.com/OvyFlash/telegram-bot-api"
)

// GetUpdatesChans long-polls the platform and fans updates into a channel.
// The error channel receives at most one terminal error; both channels close
// when polling ends.
func GetUpdatesChans(ctx context.Context, botAPI *api.BotAPI, updateConfig api.UpdateConfig) (api.UpdatesChannel, chan error) {
	ch := make(chan api.Update, botAPI.Buffer)
	chErr := make(chan error, 1)

	go func() {
		defer close(ch)
		defer close(chErr)
		for {
			select {
			case <-ctx.Done():
				chErr <- ctx.Err()
				return
			default:
				updates, err := botAPI.GetUpdates(updateConfig)
				if err != nil {
					chErr <- err
					return
				}
				for _, update := range updates {
					if update.UpdateID < updateConfig.Offset {
						continue
					}
					updateConfig.Offset = update.UpdateID + 1
					select {
					case ch <- update:
					case <-ctx.Done():
						chErr <- ctx.Err()
						return
					}
				}
			}
		}
	}()

	return ch, chErr
}

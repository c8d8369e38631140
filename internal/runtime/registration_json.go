package runtime

import (
	errspkg "github.com/openelr/relay/internal/runtime/errors"
	handlerpkg "github.com/openelr/relay/internal/runtime/handlers"
)

// RegisterJSONHandler adapts a typed JSON stage to the Watermill handler
// signature and registers it on the service router.
func RegisterJSONHandler[T any, O any](svc *Service, cfg handlerpkg.JSONHandlerRegistration[T, O]) error {
	if svc == nil {
		return errspkg.ErrServiceRequired
	}

	wrapped, err := handlerpkg.BuildJSONHandler(cfg.Handler, svc.Logger)
	if err != nil {
		return err
	}

	return svc.registerStage(stageRegistration{
		Name:         cfg.Name,
		ConsumeQueue: cfg.ConsumeQueue,
		PublishQueue: cfg.PublishQueue,
		Handler:      wrapped,
	})
}

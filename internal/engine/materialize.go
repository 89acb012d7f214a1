package engine

// materialize 把解码后的图像连同 fade 参数交给订阅者的 Sink，引擎的职责到此为止。
func materialize(sub *subscriber, img Image) {
	sub.sink.ApplyImage(img, sub.settings.FadeDuration, sub.settings.TargetAlpha)
	sub.trace("image_applied", nil)
}

func materializeLoadingPlaceholder(sub *subscriber) {
	sub.sink.ApplyPlaceholder(sub.settings.LoadingPlaceholder)
}

func materializeErrorPlaceholder(sub *subscriber) {
	sub.sink.ApplyPlaceholder(sub.settings.ErrorPlaceholder)
	sub.trace("error_placeholder_applied", nil)
}

package composer

import (
	kit "offerbot/internal/transport"
	"offerbot/pkg/tgui"
)

// Operator-facing texts of the admin bot.
const (
	BtnCreate = "✨ Создать рассылку"

	TextWelcome        = "Добро пожаловать в админского бота! Доступные функции выведены в виде кнопок ниже👇"
	TextAskContent     = "Реализуется программа создания рассылки!\n\nПришлите мне сообщение для отправки!"
	TextUnsupported    = "Этот тип сообщения не поддерживается для рассылки.\n\nВы можете отправить фото, видео, документ, голосовое сообщение, видео сообщение, текст"
	TextAskControl     = "Получил ваше сообщение! Нужно ли добавить к нему кнопку с ссылкой?"
	TextAskLink        = "Понял вас! Пришлите ссылку, которую нужно добавить в кнопку"
	TextLinkNotText    = "Неожиданный формат ссылки, попробуйте отправить новую"
	TextLinkInvalid    = "Ошибка при добавлении ссылки: %s\n\n Пришлите другую ссылку:"
	TextAskLabel       = "Проверил, ссылка рабочая👌\n\n Пришлите текст, который будет на кнопке, но он должен быть не длиннее 64 символов"
	TextLabelNotText   = "Неожиданный формат сообщения, попробуйте отправить текст"
	TextLabelInvalid   = "Текст кнопки, похоже, слишком длинный. Ограничьтесь 64 символами и отправьте новый текст для кнопки:"
	TextLabelRejected  = "Ошибка в тексте кнопки: %s\n\nОтправьте новый текст для кнопки:"
	TextPreviewHeader  = "Последний шаг! Проверьте, ваше сообщение:"
	TextPreviewFailed  = "Не удалось показать превью. Проверьте сообщение и при необходимости отмените рассылку."
	TextConfirm        = "Всё верно?"
	TextCancelToast    = "Действие отменено"
	TextCancelled      = "Создание рассылки отменено"
	TextStarted        = "Рассылка запущена. Получателей: %d"
	TextProgress       = "Рассылка идёт: %d/%d (ошибок: %d)"
	TextFinished       = "Рассылка завершена! Сообщений отправлено: %d/%d"
	TextStopped        = "\nОстановлено оператором, не отправлено: %d"
	TextNoRecipients   = "Некому отправлять: в базе нет пользователей"
	TextRecipientsFail = "Не удалось получить список получателей: %s"
	TextAlreadyRunning = "Рассылка уже идёт. Дождитесь завершения или остановите её."
	TextStopToast      = "Останавливаю рассылку"
	TextStale          = "Эта кнопка устарела"
	TextForbidden      = "Доступно только администраторам"
)

// Callback data of the composer keyboards.
const (
	CallbackPrefix = "bc"

	ActionNeedButton    = "need_button"
	ActionWithoutButton = "without_button"
	ActionStart         = "start"
	ActionCancel        = "cancel"
	ActionStop          = "stop"
)

func cancelKeyboard() [][]kit.Button {
	return tgui.Column(tgui.Btn("⛔️ Отмена рассылки", tgui.Data(CallbackPrefix, ActionCancel, "")))
}

func controlKeyboard() [][]kit.Button {
	return tgui.Column(
		tgui.Btn("Нужна", tgui.Data(CallbackPrefix, ActionNeedButton, "")),
		tgui.Btn("Не нужна", tgui.Data(CallbackPrefix, ActionWithoutButton, "")),
		tgui.Btn("⛔️ Отмена рассылки", tgui.Data(CallbackPrefix, ActionCancel, "")),
	)
}

func confirmKeyboard() [][]kit.Button {
	return tgui.Column(
		tgui.Btn("Да, рассылаем", tgui.Data(CallbackPrefix, ActionStart, "")),
		tgui.Btn("Нет, отмена рассылки", tgui.Data(CallbackPrefix, ActionCancel, "")),
	)
}

func stopKeyboard() [][]kit.Button {
	return tgui.Column(tgui.Btn("⏹ Остановить рассылку", tgui.Data(CallbackPrefix, ActionStop, "")))
}

// MainKeyboard is the admin bot's persistent reply keyboard.
func MainKeyboard() *kit.SendOptions {
	return &kit.SendOptions{ReplyKeyboard: [][]string{{BtnCreate}}}
}

package telegram

import (
	"fmt"
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/nakedarizona/Pills-bot/internal/domain"
)

const (
	startTextFmt = "Привет, %s!\n\n" +
		"Я помогу тебе не забывать принимать таблетки.\n\n" +
		"Команды:\n" +
		"/addpill — добавить таблетку\n" +
		"/mypills — мои таблетки\n" +
		"/today — расписание на сегодня\n" +
		"/schedule — изменить время приёма\n" +
		"/deletepill — удалить таблетку\n" +
		"/help — помощь"

	helpText = "Как пользоваться ботом:\n\n" +
		"1. /addpill — добавить новую таблетку.\n" +
		"   Бот спросит название, дозировку, фото и время приёма.\n" +
		"2. /mypills — посмотреть все твои таблетки.\n" +
		"3. /today — что нужно выпить сегодня.\n" +
		"4. /schedule — добавить или убрать время приёма.\n" +
		"5. /deletepill — удалить таблетку.\n\n" +
		"Как работают напоминания:\n" +
		"— бот напомнит в указанное время;\n" +
		"— нажми кнопку, когда выпьешь таблетку;\n" +
		"— если забудешь, вечером напомню ещё раз.\n\n" +
		"В общем чате каждый видит и отмечает только свои таблетки."

	notRegisteredText = "Сначала используй /start для регистрации."

	reminderFmt = "💊 %s, пора выпить таблетку!\n\n%s (%s)"

	digestHeaderFmt = "🌙 %s, ты не отметил приём таблеток сегодня:\n\n"
	digestFooter    = "\nВыпил? Отметь кнопкой ниже."

	askNameText   = "Введи название таблетки:"
	askDosageText = "Введи дозировку (например: 500мг, 1 капсула, 2 таблетки):"
	askPhotoText  = "Отправь фото таблетки или нажми «Пропустить»:"
	askTimesText  = "Выбери время приёма кнопками или отправь список, например: 08:00 20:00.\n" +
		"Когда закончишь с кнопками, нажми «Готово»."

	pickScheduleText = "Выбери таблетку для управления расписанием:"
	scheduleHintText = "➕ добавляет время, ❌ убирает его."
	lastSlotText     = "Нельзя убрать последнее время. Удали таблетку через /deletepill."
	slotExistsText   = "Это время уже в расписании."
	slotAddedFmt     = "Добавил %s."
	slotRemovedFmt   = "Убрал %s."

	notYourPillText    = "Это не твоя таблетка!"
	alreadyTakenText   = "Уже отмечено как выпито!"
	windowClosedText   = "Окно приёма уже закрыто — доза отмечена как пропущенная."
	doseNotFoundText   = "Запись о приёме не найдена."
	takenConfirmedText = "Отлично! Отмечено как выпито."
)

// takenCallback builds the callback payload for a dose confirmation
// button. The day the button was issued for is part of the payload, so a
// tap on yesterday's message confirms yesterday's dose (and gets the
// closed-window refusal), never today's.
func takenCallback(pillID int64, slotM int, day string) string {
	return "taken:" + strconv.FormatInt(pillID, 10) + ":" + strconv.Itoa(slotM) + ":" + day
}

func skipPhotoKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Пропустить", "skip_photo"),
		),
	)
}

func takenKeyboard(pillID int64, slotM int, day, pillName string) tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("✅ Выпил "+pillName, takenCallback(pillID, slotM, day)),
		),
	)
}

func timePresetsKeyboard() tgbotapi.InlineKeyboardMarkup {
	row := func(times ...string) []tgbotapi.InlineKeyboardButton {
		btns := make([]tgbotapi.InlineKeyboardButton, len(times))
		for i, s := range times {
			btns[i] = tgbotapi.NewInlineKeyboardButtonData(s, "time:"+s)
		}
		return btns
	}
	return tgbotapi.NewInlineKeyboardMarkup(
		row("06:00", "08:00", "10:00"),
		row("12:00", "14:00", "18:00"),
		row("20:00", "22:00"),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("✅ Готово", "times_done"),
		),
	)
}

// scheduleKeyboard renders a pill's dosing times for editing: one remove
// button per current slot, then preset add buttons for times not yet
// scheduled, then a back row.
func scheduleKeyboard(p *domain.Pill) tgbotapi.InlineKeyboardMarkup {
	id := strconv.FormatInt(p.ID, 10)
	scheduled := make(map[int]bool, len(p.Slots))
	for _, s := range p.Slots {
		scheduled[s] = true
	}

	var rows [][]tgbotapi.InlineKeyboardButton
	for _, s := range p.Slots {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(
				"❌ "+domain.FormatMinutes(s),
				"rmtime:"+id+":"+strconv.Itoa(s),
			),
		))
	}

	var addRow []tgbotapi.InlineKeyboardButton
	for _, preset := range []int{360, 480, 600, 720, 840, 1080, 1200, 1320} {
		if scheduled[preset] {
			continue
		}
		addRow = append(addRow, tgbotapi.NewInlineKeyboardButtonData(
			"➕ "+domain.FormatMinutes(preset),
			"addtime:"+id+":"+strconv.Itoa(preset),
		))
		if len(addRow) == 3 {
			rows = append(rows, addRow)
			addRow = nil
		}
	}
	if len(addRow) > 0 {
		rows = append(rows, addRow)
	}

	rows = append(rows, tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData("Назад", "back_to_pills"),
	))
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

// pillsKeyboard lists a user's pills one per row; prefix selects the
// callback action (e.g. "delpill").
func pillsKeyboard(pills []domain.Pill, prefix string) tgbotapi.InlineKeyboardMarkup {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(pills))
	for _, p := range pills {
		label := fmt.Sprintf("%s (%s)", p.Name, p.Dosage)
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(label, prefix+":"+strconv.FormatInt(p.ID, 10)),
		))
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

// statusIcon renders a dose status for the /today view.
func statusIcon(s domain.DoseStatus) string {
	switch s {
	case domain.StatusTaken:
		return "✅"
	case domain.StatusMissed:
		return "❌"
	case domain.StatusReminded:
		return "🔔"
	default:
		return "⏳"
	}
}

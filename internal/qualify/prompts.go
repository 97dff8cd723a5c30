package qualify

// Placeholder substituted with the program owner's services description in
// the qualification prompt.
const servicesPlaceholder = "{services_description}"

// Used when the program owner never described their offering.
const defaultServicesDescription = "Пользователь не указал описание услуг."

const qualifySystemPrompt = "You are a business analyst expert in B2B lead qualification. " +
	"Analyze the profile and provide a structured JSON output based on the provided schema. " +
	"Do not add any text before or after the JSON object."

const batchSystemPrompt = "You are a business analyst expert in B2B lead identification. " +
	"Analyze the provided chat messages and identify potential leads for Telegram bot development services. " +
	"Return ONLY valid JSON as specified in the prompt."

const batchRetryInstruction = "ВАЖНО: прошлый ответ был невалидным JSON. " +
	"Верни ТОЛЬКО валидный JSON без markdown/пояснений. " +
	"Ограничь potential_leads максимум 20, ответ сделай компактным."

const defaultQualifyPrompt = `Ты - бизнес-аналитик, который оценивает владельцев малого бизнеса как потенциальных клиентов на разработку Telegram-ботов и автоматизацию.

Услуги исполнителя:
{services_description}

Твоя задача - изучить данные пользователя ниже и вернуть строго один JSON-объект без пояснений и markdown.

Правила оценки (шкала 0-10):
- 9-10: в сообщениях прямой запрос на бота или автоматизацию, боль названа словами пользователя.
- 7-8: явная операционная боль (заявки теряются, запись вручную, менеджеры не успевают), которую закрывает Telegram-бот.
- 5-6: виден живой бизнес и процесс, который можно автоматизировать, но боль сформулирована косвенно.
- 3-4: бизнес есть, конкретной боли в сообщениях нет.
- 0-2: нет бизнеса, нет боли или запрос вне услуг исполнителя.

Требования:
- В reasoning опирайся только на факты из сообщений и профиля, цитируй ключевые фразы.
- Если боль нельзя закрыть ботом или нужной интеграции не существует, прямо напиши об этом в reasoning.
- В identified_pains включай только боли, подтверждённые сообщениями, каждую одной строкой.
- outreach.message пиши от первого лица, на "вы", без шаблонных приветствий, до 400 символов.

Формат ответа:
{
  "qualification": {
    "score": 7,
    "reasoning": "Владелец салона пишет, что администратор не успевает отвечать на заявки: 'теряем клиентов из чатов'."
  },
  "identification": {
    "business_type": "салон красоты",
    "business_scale": "микробизнес, 2-5 сотрудников"
  },
  "identified_pains": [
    {"pain": "заявки из чатов теряются, клиенты уходят"},
    {"pain": "запись клиентов ведётся вручную"}
  ],
  "product_idea": {
    "idea": "Telegram-бот записи с напоминаниями клиентам",
    "pain_addressed": "перестанут теряться заявки из чатов",
    "estimated_value": "экономия 2-3 часов администратора в день"
  },
  "outreach": {
    "message": "Здравствуйте! Увидел ваше сообщение про потерянные заявки из чатов..."
  }
}`

const defaultBatchPrompt = `Ты - бизнес-аналитик. Ниже список участников Telegram-чата с их последними сообщениями. Найди среди них владельцев бизнеса с потенциальной потребностью в Telegram-ботах или автоматизации.

Критерии отбора:
- пишет о своём бизнесе, клиентах, заявках, записи, продажах;
- жалуется на ручные процессы, потери заявок, нехватку времени;
- спрашивает про ботов, CRM, интеграции, автоматизацию.

Не отбирай: ботов, каналы, флуд, поиск работы и обсуждения без признаков своего бизнеса.

Верни строго один JSON-объект:
{
  "total_messages_analyzed": 120,
  "potential_leads": [
    {
      "username": "@user_name",
      "priority": "high",
      "pain_summary": "теряет заявки из чатов, ищет бота для записи",
      "business_hint": "салон красоты"
    }
  ],
  "filtering_stats": {
    "analyzed": 120,
    "with_business_signals": 14,
    "with_pain_signals": 6,
    "selected_for_detailed_analysis": 6
  }
}

Ограничь potential_leads двадцатью самыми сильными кандидатами. Если подходящих нет, верни пустой массив potential_leads.`

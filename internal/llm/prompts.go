package llm

import "strings"

// The prompts pin the model to a strict output contract: reasoning goes
// into a <thinking> block, the machine-readable payload into
// <json_output> tags. Values stay in the document's original language.

const metadataSystemPrompt = "Ты — высокоточный API для извлечения информации. Твой ответ ДОЛЖЕН быть ТОЛЬКО валидным JSON-объектом внутри тегов `<json_output>`. Ты НИКОГДА не пишешь объяснений или другого текста вне JSON-структуры."

const metadataUserPromptTemplate = "Сначала пошагово подумай внутри блока `<thinking>`. Проанализируй предоставленный фрагмент документа, определи основную тему, ключевые термины и именованные сущности.\n\n" +
	"Затем, на основе своих рассуждений, сгенерируй JSON-объект с ключами `summary`, `keywords` и `entities`.\n" +
	"- `summary` должно быть кратким резюме из 1-2 предложений.\n" +
	"- `keywords` должен быть массивом важных терминов.\n" +
	"- `entities` должен быть объектом, где ключи — это типы сущностей на английском языке (например, `PERSON`, `ORGANIZATION`), а значения — массивы извлеченных наименований.\n" +
	"- Все **значения** в JSON ДОЛЖНЫ быть на языке оригинала документа.\n" +
	"- В конце, помести итоговый JSON-объект внутрь тегов `<json_output>`.\n\n" +
	"Фрагмент документа:\n---\n{text_block}\n---\n"

const relationsSystemPrompt = "Ты — высокоточный API для извлечения графа знаний. Твой ответ ДОЛЖЕН быть ТОЛЬКО валидным JSON-массивом внутри тегов `<json_output>`. Ты НИКОГДА не пишешь объяснений."

const relationsUserPromptTemplate = "Сначала пошагово подумай внутри блока `<thinking>`. Проанализируй текст, чтобы выявить отдельные сущности и отношения между ними.\n\n" +
	"Затем, на основе своих рассуждений, извлеки отношения для графа знаний. Верни JSON-массив объектов, где каждый объект имеет ключи `subject`, `subject_type`, `relation`, `object` и `object_type`.\n\n" +
	"ВАЖНЫЕ ИНСТРУКЦИИ:\n" +
	"1. Все значения для ключей `subject`, `relation`, `object` ДОЛЖНЫ быть на языке оригинала.\n" +
	"2. Значения для `subject_type` и `object_type` ДОЛЖНЫ быть из этого списка: `PERSON`, `ORGANIZATION`, `LOCATION`, `DATE`, `PRODUCT`, `EVENT`, `CONCEPT`. По умолчанию используй `ENTITY`.\n" +
	"3. Значение `relation` должно быть краткой глагольной фразой в ВЕРХНЕМ РЕГИСТРЕ (например, `ОСНОВАЛ`).\n" +
	"4. Если отношения не найдены, верни пустой массив `[]`.\n" +
	"5. В конце, помести итоговый JSON-массив внутрь тегов `<json_output>`.\n\n" +
	"Текст для анализа:\n---\n{text_block}\n---\n"

// MetadataPrompt renders the metadata extraction prompt pair for a text
// block.
func MetadataPrompt(textBlock string) (system, user string) {
	return metadataSystemPrompt, strings.ReplaceAll(metadataUserPromptTemplate, "{text_block}", textBlock)
}

// RelationsPrompt renders the relation extraction prompt pair for a text
// block.
func RelationsPrompt(textBlock string) (system, user string) {
	return relationsSystemPrompt, strings.ReplaceAll(relationsUserPromptTemplate, "{text_block}", textBlock)
}

package infra

// StorageNamespace — базовый префикс для изоляции данных рантайма в Redis
const StorageNamespace = "diana"

// RedisKeyPrefix используется RedisStore для всех документов рантайма
const RedisKeyPrefix = StorageNamespace + ":serving:"

// Ключи документов durable-хранилища. Для file-драйвера это имена файлов
// (<key>.json), для postgres — значения PK, для redis — суффиксы ключей.
const (
	KeyABTests        = "ab_tests"
	KeyABPredictions  = "ab_predictions"
	KeyDriftReference = "drift_reference"
	KeyDriftAlerts    = "drift_alerts"
)

// Package sqlite предоставляет слой выполнения запросов к встроенной базе SQLite,
// устойчивый к конкуренции за файловую блокировку.
//
// Основные возможности:
// - Conn: одно закреплённое соединение с файлом базы (modernc.org/sqlite)
// - Escape и Query: безопасная сборка запроса из шаблона и недоверенных строк
// - Executor: подготовка, привязка blob-параметров и пошаговое выполнение
// с ограниченным числом повторов при SQLITE_BUSY/SQLITE_LOCKED
// - Stream: перенос строк выборки в queue.Queue
// - BuildSchema и ApplyMigrations: создание схемы
// - WithinTx: ручные транзакции DEFERRED/IMMEDIATE/EXCLUSIVE
//
// # Быстрый старт
//
//	ctx := context.Background()
//	conn, err := sqlite.OpenConn(ctx, "app.db", sqlite.DefaultDBOptions())
//	if err != nil {
//		return err
//	}
//	defer conn.Close()
//
//	exec := sqlite.NewExecutor(conn, retry.DefaultConfig(), logger)
//
// # Сборка запросов
//
// Аргументы шаблона принимаются только в виде Escaped, поэтому
// неэкранированная строка не может попасть в текст запроса:
//
//	q, err := sqlite.NewQuery("INSERT INTO users VALUES (NULL, '%s', ?, '%s')",
//		sqlite.Escape(name), sqlite.Escape(mail))
//	q = q.WithBlob(1, []byte(secret))
//	code, err := exec.Exec(ctx, q)
//
// # Конкуренция
//
// По умолчанию busy_timeout движка равен нулю: SQLITE_BUSY сразу попадает
// в Executor, который ждёт фиксированный интервал и повторяет попытку,
// пока не исчерпает retry.Config.MaxAttempts. Исчерпание возвращается как
// *retry.RetriesExceededError, код последней ошибки доступен через CodeOf.
// Той же политике (DBOptions.Retry) подчиняются подключение в OpenConn,
// включение WAL и применение миграций.
//
// ExecScript выполняет скрипт в одной транзакции BEGIN IMMEDIATE и при
// конкуренции повторяет его целиком.
//
// # Тестирование
//
//	func TestSomething(t *testing.T) {
//		tc := sqlite.NewTestConn(t)
//		tc.MustExec(t, "CREATE TABLE t (id INTEGER PRIMARY KEY)")
//		release := sqlite.HoldExclusiveLock(t, tc.Path) // конкурирующий "процесс"
//		defer release()
//	}
package sqlite

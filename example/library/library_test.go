package library_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AntonStoeckl/entity-store-go/entitystore"
	"github.com/AntonStoeckl/entity-store-go/example/library"
)

func Test_BookCopy_LendTo_SavesReaderWithBookCopy(t *testing.T) {
	// setup
	f := givenLibrary(t)

	// arrange
	reader := f.givenReader(t, "Homer")
	bookCopy := f.givenBookCopy(t, "Dune")

	// act
	require.NoError(t, bookCopy.LendTo(reader, lentAt))
	require.NoError(t, f.store.Save(f.ctx, bookCopy))

	// assert
	assert.Equal(t, 2, bookCopy.GetVersion())
	assert.Equal(t, 2, reader.GetVersion())
	assert.Empty(t, reader.PendingEvents())
	assert.Equal(t, 2, f.backend.StoredVersion(reader.GetID()))

	storedReader := f.getReader(t, reader.GetID())
	assert.Equal(t, []string{bookCopy.GetID()}, storedReader.BorrowedBookCopies)

	storedBookCopy := f.getBookCopy(t, bookCopy.GetID())
	assert.True(t, storedBookCopy.IsLent())
	assert.Equal(t, reader.GetID(), storedBookCopy.LentTo.ID())
	assert.Equal(t, 1, storedBookCopy.Lendings)

	assert.Equal(t, 1, f.stats.LentTo(reader.GetID()))
	assert.Equal(t, 1, f.stats.CurrentlyLent())
}

func Test_BookCopy_ReturnBy_LoadsReaderLazily(t *testing.T) {
	// setup
	f := givenLibrary(t)

	// arrange
	reader := f.givenReader(t, "Marge")
	bookCopy := f.givenBookCopy(t, "Solaris")
	require.NoError(t, bookCopy.LendTo(reader, lentAt))
	require.NoError(t, f.store.Save(f.ctx, bookCopy))

	storedBookCopy := f.getBookCopy(t, bookCopy.GetID())
	_, loaded := storedBookCopy.LentTo.LoadedEntity()
	require.False(t, loaded)

	// act
	require.NoError(t, storedBookCopy.ReturnBy(f.ctx, returnedAt))
	require.NoError(t, f.store.Save(f.ctx, storedBookCopy))

	// assert
	assert.False(t, storedBookCopy.IsLent())
	assert.Equal(t, 3, storedBookCopy.GetVersion())

	storedReader := f.getReader(t, reader.GetID())
	assert.Equal(t, 3, storedReader.GetVersion())
	assert.Empty(t, storedReader.BorrowedBookCopies)

	reloaded := f.getBookCopy(t, bookCopy.GetID())
	assert.Equal(t, reader.GetID(), reloaded.LastReader.ID())

	lastReader, err := reloaded.LastReader.Get(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, "Marge", lastReader.Name)

	assert.Zero(t, f.stats.CurrentlyLent())
	assert.Contains(t, f.activity.Lines(), library.ReaderReturnedBookCopyEventType+" "+reader.GetID()+" v3")
}

func Test_BookCopy_ShouldFail_WhenRulesAreViolated(t *testing.T) {
	f := givenLibrary(t)
	reader := f.givenReader(t, "Bart")

	t.Run("lend_not_in_circulation", func(t *testing.T) {
		assert.ErrorIs(t, library.NewBookCopy().LendTo(reader, lentAt), library.ErrBookCopyNotInCirculation)
	})

	t.Run("add_twice", func(t *testing.T) {
		bookCopy := f.givenBookCopy(t, "Emma")
		assert.ErrorIs(t, bookCopy.AddToCirculation("Emma", "isbn", lentAt), library.ErrBookCopyAlreadyInCirculation)
	})

	t.Run("lend_twice_and_remove_lent", func(t *testing.T) {
		bookCopy := f.givenBookCopy(t, "Ulysses")
		require.NoError(t, bookCopy.LendTo(reader, lentAt))

		assert.ErrorIs(t, bookCopy.LendTo(reader, lentAt), library.ErrBookCopyAlreadyLent)
		assert.ErrorIs(t, bookCopy.RemoveFromCirculation(lentAt), library.ErrBookCopyAlreadyLent)
	})

	t.Run("return_not_lent", func(t *testing.T) {
		bookCopy := f.givenBookCopy(t, "Walden")
		assert.ErrorIs(t, bookCopy.ReturnBy(f.ctx, returnedAt), library.ErrBookCopyNotLent)
	})

	t.Run("lend_to_canceled_contract", func(t *testing.T) {
		canceled := f.givenReader(t, "Lisa")
		require.NoError(t, canceled.CancelContract())

		bookCopy := f.givenBookCopy(t, "Middlemarch")
		assert.ErrorIs(t, bookCopy.LendTo(canceled, lentAt), library.ErrReaderContractCanceled)
	})
}

func Test_BookCopy_RemoveFromCirculation(t *testing.T) {
	f := givenLibrary(t)
	bookCopy := f.givenBookCopy(t, "Beloved")

	require.NoError(t, bookCopy.RemoveFromCirculation(returnedAt))
	require.NoError(t, f.store.Save(f.ctx, bookCopy))

	assert.False(t, f.getBookCopy(t, bookCopy.GetID()).InCirculation)
}

func Test_Reader_MoveTo_RecordsOnlyChangedAddress(t *testing.T) {
	reader := library.NewReader()
	require.NoError(t, reader.Register("Ned", mainStreet, registeredAt))

	require.NoError(t, reader.MoveTo(library.Address{Street: "Main Street 1", City: "Springfield", ZipCode: "12345"}))
	assert.Len(t, reader.PendingEvents(), 1)

	require.NoError(t, reader.MoveTo(library.Address{Street: "Evergreen Terrace 742", City: "Springfield", ZipCode: "12345"}))
	assert.Len(t, reader.PendingEvents(), 2)
	assert.Equal(t, "Evergreen Terrace 742", reader.Address.Street)
}

func Test_Reader_CancelContract_IsIdempotent(t *testing.T) {
	reader := library.NewReader()

	require.NoError(t, reader.CancelContract())
	require.NoError(t, reader.CancelContract())

	assert.True(t, reader.ContractCanceled)
	assert.Len(t, reader.PendingEvents(), 1)
}

func Test_Events_ShouldFail_OnWrongEntity(t *testing.T) {
	err := entitystore.ApplyEvent(library.NewBookCopy(), &library.ReaderMoved{Address: mainStreet})

	assert.ErrorIs(t, err, library.ErrWrongEntity)
}

func Test_ActivityLog_ReceivesVersionSignals(t *testing.T) {
	f := givenLibrary(t)

	reader := f.givenReader(t, "Maude")

	assert.Equal(t, []string{
		library.ReaderRegisteredEventType + " " + reader.GetID() + " v1",
		library.ReaderEntityType + "VersionIncremented " + reader.GetID() + " v1",
	}, f.activity.Lines())
}
